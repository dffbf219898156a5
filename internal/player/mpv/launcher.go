package mpv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/player"
)

// ErrStartTimeout is returned when mpv never opened its IPC socket.
var ErrStartTimeout = errors.New("mpv did not open its IPC socket in time")

// Launcher starts mpv for a single file and drives a player.Session against it.
type Launcher struct {
	Binary       string
	PollInterval time.Duration
	StartTimeout time.Duration
	// Bindings overrides player.DefaultKeyBindings when non-nil.
	Bindings []player.KeyBinding
}

// Play blocks until the user quits mpv or the file ends.
func (l *Launcher) Play(ctx context.Context, path string) (player.Outcome, error) {
	logger := logctx.LoggerFromContext(ctx).With("file", path)

	dir, err := os.MkdirTemp("", "mover-mpv-")
	if err != nil {
		return player.Outcome{}, fmt.Errorf("failed to create socket dir: %w", err)
	}
	defer os.RemoveAll(dir)

	socket := filepath.Join(dir, "ipc.sock")

	cmd := exec.CommandContext(ctx, l.binary(),
		"--input-ipc-server="+socket,
		"--keep-open=yes",
		"--force-window=yes",
		path,
	)

	if err := cmd.Start(); err != nil {
		return player.Outcome{}, fmt.Errorf("failed to start %s: %w", l.binary(), err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	logger.Debug("player started", "pid", cmd.Process.Pid, "socket", socket)

	client, stopped, err := l.connect(ctx, socket, exited)
	if err != nil {
		if !stopped {
			_ = cmd.Process.Kill()
			<-exited
		}

		return player.Outcome{}, err
	}
	defer client.Close()

	outcome, err := player.NewSession(client, l.Bindings, l.PollInterval).Run(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		<-exited

		return outcome, fmt.Errorf("playback session failed: %w", err)
	}

	// keep-open leaves the window up at EOF.
	if outcome.Finished {
		if err := client.Quit(ctx); err != nil {
			logger.Warn("failed to quit player", "err", err)
		}
	}

	if err := <-exited; err != nil {
		logger.Debug("player exited with error", "err", err)
	}

	return outcome, nil
}

func (l *Launcher) binary() string {
	if l.Binary == "" {
		return "mpv"
	}

	return l.Binary
}

// connect retries the socket until mpv creates it, the process dies, or StartTimeout passes.
// stopped reports that the exit status was already taken from exited.
func (l *Launcher) connect(ctx context.Context, socket string, exited <-chan error) (client *Client, stopped bool, err error) {
	timeout := l.StartTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if client, err := Dial(ctx, socket); err == nil {
			return client, false, nil
		}

		select {
		case err := <-exited:
			if err == nil {
				err = errors.New("exited before opening its IPC socket")
			}

			return nil, true, fmt.Errorf("player stopped early: %w", err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, false, ErrStartTimeout
			}

			return nil, false, ctx.Err()
		case <-ticker.C:
		}
	}
}
