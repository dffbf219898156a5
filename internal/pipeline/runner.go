// Package pipeline runs one search, download, curate and play cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/mover/internal/catalog"
	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/notifier"
	"github.com/italolelis/mover/internal/player"
	"github.com/italolelis/mover/internal/telemetry"
)

type Downloader interface {
	Download(ctx context.Context, variant catalog.Variant, displayName string) (string, error)
}

type Curator interface {
	Curate(ctx context.Context, folder string) (string, error)
}

type Player interface {
	Play(ctx context.Context, path string) (player.Outcome, error)
}

// Dialogue is the user-facing side of a run.
type Dialogue interface {
	Query() (string, error)
	ChooseMovie(movies []catalog.Movie) (catalog.Movie, error)
	ChooseVariant(movie catalog.Movie) (catalog.Variant, error)
	Confirm(question string) (bool, error)
	Println(a ...any)
}

// Result describes a completed run. Outcome is nil when playback was skipped.
type Result struct {
	Movie   catalog.Movie
	Variant catalog.Variant
	File    string
	Outcome *player.Outcome
}

type Runner struct {
	Searcher   catalog.Searcher
	Downloader Downloader
	Curator    Curator
	// Player is optional. Without it the run ends after curation.
	Player   Player
	Dialogue Dialogue
	Notifier notifier.Notifier
	Status   *Status
	Tel      *telemetry.Telemetry
}

// Run walks the stages strictly in order. Any stage error ends the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Status == nil {
		r.Status = NewStatus("")
	}

	if r.Notifier == nil {
		r.Notifier = notifier.Nop{}
	}

	ctx = logctx.With(ctx, "run_id", r.Status.Snapshot().RunID)

	res, stage, err := r.run(ctx)
	if err != nil {
		r.Status.fail(err)
		if r.Tel != nil {
			r.Tel.RecordSystemError("pipeline", string(stage))
		}
		logctx.LoggerFromContext(ctx).Error("run failed", "stage", stage, "err", err)

		return res, err
	}

	r.Status.setStage(StageDone)

	return res, nil
}

func (r *Runner) run(ctx context.Context) (Result, Stage, error) {
	var res Result

	logger := logctx.LoggerFromContext(ctx)

	query, err := r.Dialogue.Query()
	if err != nil {
		return res, StageSearching, err
	}

	r.Status.setStage(StageSearching)

	movies, err := r.Searcher.Search(ctx, query)
	if err != nil {
		return res, StageSearching, fmt.Errorf("failed to search catalog: %w", err)
	}

	r.Status.setStage(StageSelecting)

	movie, err := r.Dialogue.ChooseMovie(movies)
	if err != nil {
		return res, StageSelecting, err
	}

	res.Movie = movie

	variant, err := r.Dialogue.ChooseVariant(movie)
	if err != nil {
		return res, StageSelecting, err
	}

	res.Variant = variant

	r.Status.update(func(s *Snapshot) {
		s.Stage = StageDownloading
		s.Title = movie.Heading()
		s.Quality = variant.Quality
	})

	ctx = logctx.With(ctx, "title", movie.Heading(), "quality", variant.Quality)
	logger = logctx.LoggerFromContext(ctx)

	folder, err := r.Downloader.Download(ctx, variant, movie.Title)
	if err != nil {
		r.notify(ctx, notifier.DownloadFailed(movie.Heading(), err))
		return res, StageDownloading, fmt.Errorf("failed to download %s: %w", movie.Heading(), err)
	}

	r.Status.setStage(StageCurating)

	file, err := r.Curator.Curate(ctx, folder)
	if err != nil {
		return res, StageCurating, fmt.Errorf("failed to curate %s: %w", folder, err)
	}

	res.File = file
	r.Status.update(func(s *Snapshot) { s.File = file })

	logger.Info("content ready", "file", file)
	r.Dialogue.Println("Ready:", file)
	r.notify(ctx, notifier.DownloadFinished(movie.Heading(), file))

	if r.Player == nil {
		return res, StageDone, nil
	}

	play, err := r.Dialogue.Confirm("Play " + movie.Heading() + " now?")
	if err != nil || !play {
		return res, StageDone, err
	}

	r.Status.setStage(StagePlaying)

	outcome, err := r.Player.Play(ctx, file)
	if err != nil {
		return res, StagePlaying, fmt.Errorf("failed to play %s: %w", file, err)
	}

	res.Outcome = &outcome
	if r.Tel != nil {
		r.Tel.RecordPlayback(outcome.Label(), outcome.LastPosition)
	}

	if outcome.Finished {
		r.Dialogue.Println("Finished watching", movie.Heading())
	} else {
		r.Dialogue.Println("Stopped at", outcome.Position())
	}

	r.notify(ctx, notifier.PlaybackEnded(movie.Heading(), outcome))

	return res, StageDone, nil
}

// notify never fails the run.
func (r *Runner) notify(ctx context.Context, content string) {
	if err := r.Notifier.Notify(ctx, content); err != nil && !errors.Is(err, context.Canceled) {
		logctx.LoggerFromContext(ctx).Warn("failed to send notification", "err", err)
	}
}
