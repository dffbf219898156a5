// Package catalog searches the YTS movie catalog for titles and their torrent variants.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNoMoviesFound is returned when a search matches nothing.
	ErrNoMoviesFound = errors.New("no movies found")
	// ErrNoVariantsFound is returned when the chosen movie carries no torrents.
	ErrNoVariantsFound = errors.New("no torrent variants found")
)

// Searcher finds movies by title.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Movie, error)
}

// Movie is one catalog entry.
type Movie struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Year     int       `json:"year"`
	Rating   float64   `json:"rating"`
	Runtime  int       `json:"runtime"`
	Summary  string    `json:"summary"`
	Genres   []string  `json:"genres"`
	Variants []Variant `json:"torrents"`
}

// Variant is one downloadable encoding of a movie.
type Variant struct {
	Hash       string `json:"hash"`
	Quality    string `json:"quality"`
	Type       string `json:"type"`
	VideoCodec string `json:"video_codec"`
	Seeds      int    `json:"seeds"`
	Peers      int    `json:"peers"`
	Size       string `json:"size"`
	SizeBytes  int64  `json:"size_bytes"`
}

// String renders the variant the way it is listed to the user.
func (v Variant) String() string {
	size := v.Size
	if v.SizeBytes > 0 {
		size = humanize.Bytes(uint64(v.SizeBytes))
	}

	parts := []string{v.Quality}
	if v.Type != "" {
		parts = append(parts, v.Type)
	}
	if v.VideoCodec != "" {
		parts = append(parts, v.VideoCodec)
	}

	return fmt.Sprintf("%s | seeds %d | peers %d | %s", strings.Join(parts, " "), v.Seeds, v.Peers, size)
}

// Heading renders "Title (Year)".
func (m Movie) Heading() string {
	if m.Year == 0 {
		return m.Title
	}

	return fmt.Sprintf("%s (%d)", m.Title, m.Year)
}

// CheckVariants reports ErrNoVariantsFound for a movie with no torrents.
func (m Movie) CheckVariants() error {
	if len(m.Variants) == 0 {
		return fmt.Errorf("%s: %w", m.Heading(), ErrNoVariantsFound)
	}

	return nil
}

// SearchError is returned when the catalog cannot be queried or rejects the query.
type SearchError struct {
	Query      string
	StatusCode int    // HTTP status, 0 when the request never completed
	APIMessage string // status_message from the catalog, if any
	Err        error
}

func (e *SearchError) Error() string {
	switch {
	case e.StatusCode > 0 && e.APIMessage != "":
		return fmt.Sprintf("search %q failed (HTTP %d): %s", e.Query, e.StatusCode, e.APIMessage)
	case e.StatusCode > 0:
		return fmt.Sprintf("search %q failed (HTTP %d)", e.Query, e.StatusCode)
	case e.APIMessage != "":
		return fmt.Sprintf("search %q failed: %s", e.Query, e.APIMessage)
	case e.Err != nil:
		return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
	default:
		return fmt.Sprintf("search %q failed", e.Query)
	}
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
