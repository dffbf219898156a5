// Package player drives a media player session and reports how far playback got.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/mover/internal/logctx"
)

// EventShutdown is delivered when the player window is closed or the user quits.
const EventShutdown = "shutdown"

// Player is the subset of a media player a session needs.
type Player interface {
	RegisterKeyBinding(ctx context.Context, key, command string) error
	FloatProperty(ctx context.Context, name string) (float64, error)
	BoolProperty(ctx context.Context, name string) (bool, error)
	// WaitEvent waits at most timeout for the next event. ok is false when none arrived.
	WaitEvent(ctx context.Context, timeout time.Duration) (ev Event, ok bool)
}

// Event is a player notification.
type Event struct {
	Name string
}

// KeyBinding maps a key to a player command.
type KeyBinding struct {
	Key     string
	Command string
}

// DefaultKeyBindings returns the controls installed in every session.
func DefaultKeyBindings() []KeyBinding {
	return []KeyBinding{
		{"ESC", "quit"},
		{"SPACE", "cycle pause"},
		{"LEFT", "seek -5"},
		{"RIGHT", "seek 5"},
		{"UP", "add volume 5"},
		{"DOWN", "add volume -5"},
		{"a", "cycle audio"},
		{"s", "cycle sub"},
		{"SHIFT+s", "cycle sub down"},
		{"SHIFT+a", "cycle audio down"},
		{"SHIFT+LEFT", "seek -1"},
		{"SHIFT+RIGHT", "seek 1"},
		{"CTRL+LEFT", "seek -10"},
		{"CTRL+RIGHT", "seek 10"},
		{"CTRL+a", "cycle aid"},
		{"CTRL+s", "cycle sid"},
		{"f", "cycle fullscreen"},
	}
}

// State is the lifecycle position of a Session.
type State int

const (
	StateConfiguring State = iota
	StateRunning
	StateFinished
	StateUserQuit
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateUserQuit:
		return "user_quit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is how a session ended. LastPosition is in seconds and is 0 when Finished.
type Outcome struct {
	Finished     bool
	LastPosition float64
}

// Label is "finished" or "user_quit".
func (o Outcome) Label() string {
	if o.Finished {
		return StateFinished.String()
	}
	return StateUserQuit.String()
}

// Position renders LastPosition as HH:MM:SS.
func (o Outcome) Position() string {
	secs := int(time.Duration(o.LastPosition * float64(time.Second)).Round(time.Second).Seconds())

	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// Session runs one playback from key setup to shutdown or end of file.
type Session struct {
	player   Player
	bindings []KeyBinding
	poll     time.Duration

	mu    sync.Mutex
	state State
}

// NewSession polls the player every poll interval. Nil bindings install DefaultKeyBindings.
func NewSession(p Player, bindings []KeyBinding, poll time.Duration) *Session {
	if bindings == nil {
		bindings = DefaultKeyBindings()
	}

	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	return &Session{player: p, bindings: bindings, poll: poll}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run blocks until the user quits, the content ends, or ctx is done.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	logger := logctx.LoggerFromContext(ctx)

	s.setState(StateConfiguring)

	for _, b := range s.bindings {
		if err := s.player.RegisterKeyBinding(ctx, b.Key, b.Command); err != nil {
			return Outcome{}, fmt.Errorf("failed to register key binding %q: %w", b.Key, err)
		}
	}

	s.setState(StateRunning)
	logger.Debug("playback running", "key_bindings", len(s.bindings))

	var last float64

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{LastPosition: last}, err
		}

		if ev, ok := s.player.WaitEvent(ctx, s.poll); ok && ev.Name == EventShutdown {
			s.setState(StateUserQuit)
			logger.Info("playback stopped by user", "position", last)

			return Outcome{LastPosition: last}, nil
		}

		if pos, err := s.player.FloatProperty(ctx, "time-pos"); err == nil {
			last = pos
		}

		if eof, err := s.player.BoolProperty(ctx, "eof-reached"); err == nil && eof {
			s.setState(StateFinished)
			logger.Info("playback finished")

			return Outcome{Finished: true}, nil
		}
	}
}
