package downloader

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"

	"github.com/italolelis/mover/internal/transfer"
)

const barWidth = 30

// progressLine rewrites one terminal line per sample.
type progressLine struct {
	out      io.Writer
	bar      progress.Model
	interval time.Duration
	last     int64
	rendered bool
}

func newProgressLine(out io.Writer, interval time.Duration) *progressLine {
	return &progressLine{
		out:      out,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		interval: interval,
		last:     -1,
	}
}

func (p *progressLine) render(stats transfer.Stats) {
	if p.out == nil {
		return
	}

	var rate int64
	if p.last >= 0 && stats.BytesCompleted > p.last {
		rate = int64(float64(stats.BytesCompleted-p.last) / p.interval.Seconds())
	}
	p.last = stats.BytesCompleted

	fmt.Fprintf(p.out, "\r\033[2K%s %s %s/s", p.bar.ViewAs(stats.Progress()), stats, humanize.Bytes(uint64(rate)))
	p.rendered = true
}

func (p *progressLine) finish() {
	if p.out != nil && p.rendered {
		fmt.Fprintln(p.out)
	}
}
