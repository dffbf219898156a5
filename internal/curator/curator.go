// Package curator reduces a downloaded folder to the one file worth playing.
package curator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/telemetry"
)

// ErrNoMediaFound is returned when nothing playable is left after pruning.
var ErrNoMediaFound = errors.New("no media found")

var (
	DefaultVideoExtensions    = []string{"mp4", "mkv", "avi", "flv", "wmv", "mov"}
	DefaultSubtitleExtensions = []string{"srt"}
)

// Options configure a Curator. Extensions are matched case-insensitively, without the dot.
type Options struct {
	VideoExtensions    []string
	SubtitleExtensions []string
	// TieBreakVideoOnly restricts the largest-file pick to videos when several remain.
	TieBreakVideoOnly bool
}

// Curator prunes a folder down to media files and picks the one to play.
type Curator struct {
	video     map[string]struct{}
	subtitle  map[string]struct{}
	videoOnly bool
	telemetry *telemetry.Telemetry
}

func New(opts Options, tel *telemetry.Telemetry) *Curator {
	if len(opts.VideoExtensions) == 0 {
		opts.VideoExtensions = DefaultVideoExtensions
	}

	if opts.SubtitleExtensions == nil {
		opts.SubtitleExtensions = DefaultSubtitleExtensions
	}

	return &Curator{
		video:     extensionSet(opts.VideoExtensions),
		subtitle:  extensionSet(opts.SubtitleExtensions),
		videoOnly: opts.TieBreakVideoOnly,
		telemetry: tel,
	}
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = struct{}{}
	}

	return set
}

// extension returns the lower-cased extension of name without the dot, or "".
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func (c *Curator) isVideo(name string) bool {
	_, ok := c.video[extension(name)]
	return ok
}

func (c *Curator) isMedia(name string) bool {
	ext := extension(name)
	if _, ok := c.video[ext]; ok {
		return true
	}

	_, ok := c.subtitle[ext]

	return ok
}

// Curate deletes every directory and non-media file directly under folder, then
// returns the path of the file to play. Running it again on the result is a no-op.
func (c *Curator) Curate(ctx context.Context, folder string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("folder", folder)

	removed := map[string]int{"dir": 0, "file": 0}

	path, err := c.curate(ctx, folder, removed)

	status := "success"
	if err != nil {
		status = "error"
	}

	if c.telemetry != nil {
		c.telemetry.RecordCuration(status, removed)
	}

	if err != nil {
		logger.Error("failed to curate folder", "err", err, "removed_dirs", removed["dir"], "removed_files", removed["file"])

		return "", err
	}

	logger.Info("folder curated", "file", path, "removed_dirs", removed["dir"], "removed_files", removed["file"])

	return path, nil
}

func (c *Curator) curate(ctx context.Context, folder string, removed map[string]int) (string, error) {
	if err := c.prune(ctx, folder, removed); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", folder, err)
	}

	var (
		videos    []fs.DirEntry
		remaining []fs.DirEntry
	)

	for _, entry := range entries {
		remaining = append(remaining, entry)

		if c.isVideo(entry.Name()) {
			videos = append(videos, entry)
		}
	}

	switch len(videos) {
	case 0:
		return "", fmt.Errorf("%s: %w", folder, ErrNoMediaFound)
	case 1:
		return filepath.Join(folder, videos[0].Name()), nil
	}

	candidates := remaining
	if c.videoOnly {
		candidates = videos
	}

	largest, size, err := largestFile(candidates)
	if err != nil {
		return "", err
	}

	logctx.LoggerFromContext(ctx).Debug("several videos found, picked the largest file",
		"videos", len(videos), "file", largest, "size", humanize.Bytes(uint64(size)))

	return filepath.Join(folder, largest), nil
}

// prune removes directories and files outside the media sets.
func (c *Curator) prune(ctx context.Context, folder string, removed map[string]int) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", folder, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(folder, entry.Name())

		if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove directory %s: %w", path, err)
			}

			logger.Debug("removed directory", "path", path)
			removed["dir"]++

			continue
		}

		if c.isMedia(entry.Name()) {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove file %s: %w", path, err)
		}

		logger.Debug("removed file", "path", path)
		removed["file"]++
	}

	return nil
}

// largestFile returns the biggest entry; the first one wins a tie.
func largestFile(entries []fs.DirEntry) (string, int64, error) {
	var (
		name string
		size int64 = -1
	)

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return "", 0, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		if info.Size() > size {
			name, size = entry.Name(), info.Size()
		}
	}

	return name, size, nil
}
