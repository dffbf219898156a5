// Package transfer defines the boundary between the downloader and the engines that acquire content.
package transfer

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

// EngineFactory opens an engine session that stores content under downloadRoot.
type EngineFactory func(ctx context.Context, downloadRoot string) (Engine, error)

// Engine accepts magnet links and turns them into running transfers.
type Engine interface {
	Submit(ctx context.Context, magnetLink string, opts SubmitOptions) (Handle, error)
	Close() error
}

// SubmitOptions tune a single submission.
type SubmitOptions struct {
	// Overwrite lets the engine reuse a folder left by an earlier, interrupted transfer.
	Overwrite bool
}

// Handle is one running transfer. It is owned by a single caller.
type Handle interface {
	// Stats is safe to call concurrently with WaitUntilCompleted.
	Stats() Stats
	// WaitUntilCompleted blocks until every byte is on disk, the transfer fails, or ctx is done.
	WaitUntilCompleted(ctx context.Context) error
	// RootFolderName is the folder, relative to the download root, that holds the content.
	RootFolderName() string
	Close() error
}

// Phase is the coarse state of a transfer.
type Phase string

const (
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
	PhaseFetching    Phase = "fetching"
	PhaseCompleted   Phase = "completed"
)

// Stats is a point-in-time snapshot of a transfer.
type Stats struct {
	Name           string
	Phase          Phase
	BytesCompleted int64
	BytesTotal     int64
	Peers          int
	Seeders        int
}

// Progress returns completion in [0, 1]. Unknown totals report 0.
func (s Stats) Progress() float64 {
	if s.BytesTotal <= 0 {
		return 0
	}

	p := float64(s.BytesCompleted) / float64(s.BytesTotal)
	if p > 1 {
		return 1
	}

	return p
}

func (s Stats) String() string {
	if s.BytesTotal <= 0 {
		return fmt.Sprintf("%s: %s (peers %d)", s.Phase, humanize.Bytes(uint64(max(s.BytesCompleted, 0))), s.Peers)
	}

	return fmt.Sprintf("%s: %.1f%% %s / %s (peers %d, seeders %d)",
		s.Phase,
		s.Progress()*100,
		humanize.Bytes(uint64(s.BytesCompleted)),
		humanize.Bytes(uint64(s.BytesTotal)),
		s.Peers,
		s.Seeders,
	)
}
