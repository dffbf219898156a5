// Package magnet renders magnet links for catalog variants.
package magnet

import (
	"net/url"
	"strings"

	"github.com/italolelis/mover/internal/catalog"
)

// DefaultTrackers are announced in every link, in this order.
var DefaultTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// Builder renders magnet links against a fixed tracker list. Safe for concurrent use.
type Builder struct {
	trackers string
}

// New pre-encodes the tracker segments. An empty list falls back to DefaultTrackers.
func New(trackers []string) *Builder {
	if len(trackers) == 0 {
		trackers = DefaultTrackers
	}

	var b strings.Builder
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(Escape(tr))
	}

	return &Builder{trackers: b.String()}
}

// Build returns magnet:?xt=urn:btih:{hash}&dn={name+quality}&tr=... for the variant.
func (b *Builder) Build(variant catalog.Variant, displayName string) string {
	return "magnet:?xt=urn:btih:" + variant.Hash +
		"&dn=" + Escape(displayName+variant.Quality) +
		b.trackers
}

// Escape percent-encodes everything outside the RFC 3986 unreserved set.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
