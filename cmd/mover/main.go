package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/mover/internal/catalog"
	"github.com/italolelis/mover/internal/config"
	"github.com/italolelis/mover/internal/curator"
	"github.com/italolelis/mover/internal/downloader"
	"github.com/italolelis/mover/internal/http/rest"
	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/magnet"
	"github.com/italolelis/mover/internal/notifier"
	"github.com/italolelis/mover/internal/pipeline"
	"github.com/italolelis/mover/internal/player/mpv"
	"github.com/italolelis/mover/internal/prompt"
	"github.com/italolelis/mover/internal/telemetry"
	"github.com/italolelis/mover/internal/transfer"
	"github.com/italolelis/mover/internal/transfer/anacrolix"
	"github.com/italolelis/mover/internal/transfer/deluge"
	"github.com/italolelis/mover/internal/transfer/putio"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	// stdout belongs to the dialogue and the progress line.
	logger := logctx.New(os.Stderr, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("mover starting...", "version", version, "engine", cfg.Transfer.Engine, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "mover",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Downloader
	factory, err := buildEngineFactory(cfg)
	if err != nil {
		return fmt.Errorf("failed to build transfer engine: %w", err)
	}

	magnets := magnet.New(cfg.Trackers)

	dl := downloader.New(transfer.InstrumentFactory(factory, tel, cfg.Transfer.Engine), magnets, downloader.Config{
		Engine:           cfg.Transfer.Engine,
		DownloadRoot:     cfg.DownloadRoot,
		Overwrite:        cfg.Transfer.Overwrite,
		ProgressInterval: cfg.ProgressInterval,
		Output:           os.Stdout,
	})
	defer func() {
		if err := dl.Close(); err != nil {
			logger.Error("failed to close transfer engine", "err", err)
		}
	}()

	status := pipeline.NewStatus(uuid.NewString())
	dl.OnProgress = status.UpdateTransfer

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, status, tel, cfg)

		go func() {
			logger.Info("Initializing status API", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()

		defer func() {
			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)
				_ = server.Close()
			}
		}()
	}

	// =========================================================================
	// Start Pipeline
	dialogue := prompt.New(os.Stdin, os.Stdout)
	dialogue.MagnetLink = magnets.Build

	runner := &pipeline.Runner{
		Searcher:   catalog.NewInstrumentedSearcher(catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.SortBy, cfg.Catalog.Timeout), tel),
		Downloader: dl,
		Curator: curator.New(curator.Options{
			VideoExtensions:    cfg.VideoExtensions,
			SubtitleExtensions: cfg.SubtitleExtensions,
			TieBreakVideoOnly:  cfg.Curate.TiebreakVideoOnly,
		}, tel),
		Dialogue: dialogue,
		Notifier: buildNotifier(cfg),
		Status:   status,
		Tel:      tel,
	}

	if launcher := buildLauncher(ctx, cfg); launcher != nil {
		runner.Player = launcher
	}

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx)
		done <- err
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return <-done
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("start shutdown")

		// A run blocked on console input never sees the cancellation.
		select {
		case err := <-done:
			return err
		case <-time.After(cfg.Web.ShutdownTimeout):
			return ctx.Err()
		}
	}
}

// This is an abstract factory for the transfer engine.
func buildEngineFactory(cfg *config.Config) (transfer.EngineFactory, error) {
	switch cfg.Transfer.Engine {
	case config.EngineAnacrolix:
		return anacrolix.Factory(anacrolix.Config{
			InfoTimeout: cfg.Transfer.InfoTimeout,
			ListenPort:  cfg.Transfer.ListenPort,
			NoDHT:       cfg.Transfer.NoDHT,
		}), nil
	case config.EnginePutio:
		return putio.Factory(putio.Config{
			Token:        cfg.Putio.Token,
			BaseURL:      cfg.Putio.BaseURL,
			PollInterval: cfg.Putio.PollInterval,
			MaxParallel:  cfg.Putio.MaxParallel,
		}), nil
	case config.EngineDeluge:
		return deluge.Factory(deluge.Config{
			BaseURL:      cfg.Deluge.BaseURL,
			APIPath:      cfg.Deluge.APIPath,
			Username:     cfg.Deluge.Username,
			Password:     cfg.Deluge.Password,
			Insecure:     cfg.Deluge.Insecure,
			PollInterval: cfg.Deluge.PollInterval,
			MaxParallel:  cfg.Deluge.MaxParallel,
		}), nil
	}

	return nil, fmt.Errorf("invalid transfer engine: %s", cfg.Transfer.Engine)
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
}

// buildLauncher returns nil when no player binary is available, which ends runs after curation.
func buildLauncher(ctx context.Context, cfg *config.Config) *mpv.Launcher {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.Player.Binary == "" {
		return nil
	}

	if _, err := exec.LookPath(cfg.Player.Binary); err != nil {
		logger.Warn("player not found, playback disabled", "binary", cfg.Player.Binary, "err", err)
		return nil
	}

	return &mpv.Launcher{
		Binary:       cfg.Player.Binary,
		PollInterval: cfg.Player.PollInterval,
		StartTimeout: cfg.Player.StartTimeout,
	}
}

// setupServer prepares the status server.
func setupServer(ctx context.Context, status *pipeline.Status, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewStatusHandler(status, tel).Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
