// Package downloader turns a catalog variant into a folder of downloaded content.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/mover/internal/catalog"
	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/magnet"
	"github.com/italolelis/mover/internal/transfer"
)

// Config carries the values fixed for the lifetime of the process.
type Config struct {
	Engine           string
	DownloadRoot     string
	Overwrite        bool
	ProgressInterval time.Duration
	// Output receives the single-line progress display. Nil disables it.
	Output io.Writer
}

// Downloader runs one transfer at a time on a lazily opened engine session.
type Downloader struct {
	factory transfer.EngineFactory
	magnets *magnet.Builder
	cfg     Config

	// OnProgress, when set, receives every progress sample.
	OnProgress func(transfer.Stats)

	mu     sync.Mutex
	engine transfer.Engine
}

func New(factory transfer.EngineFactory, magnets *magnet.Builder, cfg Config) *Downloader {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}

	return &Downloader{
		factory: factory,
		magnets: magnets,
		cfg:     cfg,
	}
}

// Download acquires the variant and returns the folder holding its content.
func (d *Downloader) Download(ctx context.Context, variant catalog.Variant, displayName string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("engine", d.cfg.Engine, "quality", variant.Quality)

	engine, err := d.session(ctx)
	if err != nil {
		return "", err
	}

	link := d.magnets.Build(variant, displayName)

	logger.Info("submitting transfer", "magnet", link)

	h, err := engine.Submit(ctx, link, transfer.SubmitOptions{Overwrite: d.cfg.Overwrite})
	if err != nil {
		var subErr *transfer.SubmissionError
		if !errors.As(err, &subErr) {
			err = &transfer.SubmissionError{Engine: d.cfg.Engine, Reason: "submit", Err: err}
		}

		logger.Error("failed to submit transfer", "err", err)

		return "", err
	}

	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("failed to close transfer handle", "err", err)
		}
	}()

	start := time.Now()

	if err := d.await(ctx, h); err != nil {
		logger.Error("transfer failed", "err", err, "elapsed", time.Since(start))

		return "", err
	}

	folder := filepath.Join(d.cfg.DownloadRoot, h.RootFolderName())

	logger.Info("transfer completed", "folder", folder, "elapsed", time.Since(start))

	return folder, nil
}

// session opens the engine on first use and reuses it afterwards.
func (d *Downloader) session(ctx context.Context) (transfer.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil {
		return d.engine, nil
	}

	engine, err := d.factory(ctx, d.cfg.DownloadRoot)
	if err != nil {
		var sessErr *transfer.SessionError
		if !errors.As(err, &sessErr) {
			err = &transfer.SessionError{Engine: d.cfg.Engine, Err: err}
		}

		logctx.LoggerFromContext(ctx).Error("failed to open transfer session", "err", err)

		return nil, err
	}

	d.engine = engine

	return engine, nil
}

// await blocks on the transfer while the reporter samples it. The reporter is
// stopped and joined before await returns.
func (d *Downloader) await(ctx context.Context, h transfer.Handle) error {
	g, gctx := errgroup.WithContext(ctx)
	reportCtx, stopReporting := context.WithCancel(gctx)

	g.Go(func() error {
		d.report(reportCtx, h)
		return nil
	})

	g.Go(func() error {
		defer stopReporting()
		return h.WaitUntilCompleted(gctx)
	})

	err := g.Wait()
	if err == nil {
		return nil
	}

	var ioErr *transfer.IOError
	if !errors.As(err, &ioErr) {
		err = &transfer.IOError{Engine: d.cfg.Engine, Name: h.Stats().Name, Err: err}
	}

	return fmt.Errorf("failed waiting for transfer: %w", err)
}

func (d *Downloader) report(ctx context.Context, h transfer.Handle) {
	ticker := time.NewTicker(d.cfg.ProgressInterval)
	defer ticker.Stop()

	line := newProgressLine(d.cfg.Output, d.cfg.ProgressInterval)
	defer line.finish()

	for {
		select {
		case <-ctx.Done():
			d.sample(line, h)
			return
		case <-ticker.C:
			d.sample(line, h)
		}
	}
}

func (d *Downloader) sample(line *progressLine, h transfer.Handle) {
	stats := h.Stats()
	line.render(stats)

	if d.OnProgress != nil {
		d.OnProgress(stats)
	}
}

// Close releases the engine session, if one was opened.
func (d *Downloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine == nil {
		return nil
	}

	err := d.engine.Close()
	d.engine = nil

	return err
}
