package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is what the fake player reports on one loop iteration.
type step struct {
	event    string
	pos      float64
	posErr   bool
	eof      bool
	eofError bool
}

type fakePlayer struct {
	steps    []step
	i        int
	bindings []KeyBinding
	bindErr  error
	waits    []time.Duration
}

func (f *fakePlayer) current() step {
	if f.i < len(f.steps) {
		return f.steps[f.i]
	}
	return f.steps[len(f.steps)-1]
}

func (f *fakePlayer) RegisterKeyBinding(_ context.Context, key, command string) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bindings = append(f.bindings, KeyBinding{Key: key, Command: command})
	return nil
}

func (f *fakePlayer) WaitEvent(_ context.Context, timeout time.Duration) (Event, bool) {
	f.waits = append(f.waits, timeout)
	if ev := f.current().event; ev != "" {
		return Event{Name: ev}, true
	}
	time.Sleep(timeout)
	return Event{}, false
}

func (f *fakePlayer) FloatProperty(_ context.Context, name string) (float64, error) {
	if name != "time-pos" {
		return 0, errors.New("unexpected property " + name)
	}
	if f.current().posErr {
		return 0, errors.New("property unavailable")
	}
	return f.current().pos, nil
}

func (f *fakePlayer) BoolProperty(_ context.Context, name string) (bool, error) {
	if name != "eof-reached" {
		return false, errors.New("unexpected property " + name)
	}
	st := f.current()
	f.i++
	if st.eofError {
		return false, errors.New("property unavailable")
	}
	return st.eof, nil
}

func TestDefaultKeyBindings(t *testing.T) {
	bindings := DefaultKeyBindings()
	require.Len(t, bindings, 17)

	byKey := map[string]string{}
	for _, b := range bindings {
		byKey[b.Key] = b.Command
	}
	require.Len(t, byKey, 17, "duplicate key")

	assert.Equal(t, "quit", byKey["ESC"])
	assert.Equal(t, "cycle pause", byKey["SPACE"])
	assert.Equal(t, "seek -10", byKey["CTRL+LEFT"])
	assert.Equal(t, "cycle sub down", byKey["SHIFT+s"])
	assert.Equal(t, "cycle fullscreen", byKey["f"])
}

func TestSessionUserQuitReportsLastPosition(t *testing.T) {
	p := &fakePlayer{steps: []step{
		{pos: 10},
		{pos: 11.5},
		{posErr: true},
		{event: EventShutdown},
	}}

	s := NewSession(p, nil, 20*time.Millisecond)
	assert.Equal(t, StateConfiguring, s.State())

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Outcome{Finished: false, LastPosition: 11.5}, outcome)
	assert.Equal(t, StateUserQuit, s.State())
	assert.Len(t, p.bindings, 17)

	for _, w := range p.waits {
		assert.Equal(t, 20*time.Millisecond, w)
	}
}

func TestSessionEOFReportsFinished(t *testing.T) {
	p := &fakePlayer{steps: []step{
		{pos: 5},
		{pos: 6, eofError: true},
		{pos: 7, eof: true},
	}}

	s := NewSession(p, nil, time.Millisecond)

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Outcome{Finished: true, LastPosition: 0}, outcome)
	assert.Equal(t, StateFinished, s.State())
}

func TestSessionShutdownWinsOverEOF(t *testing.T) {
	p := &fakePlayer{steps: []step{{pos: 42, eof: true, event: EventShutdown}}}

	outcome, err := NewSession(p, nil, time.Millisecond).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Finished)
	assert.Zero(t, outcome.LastPosition)
}

func TestSessionKeyBindingFailure(t *testing.T) {
	p := &fakePlayer{bindErr: errors.New("socket closed"), steps: []step{{}}}

	s := NewSession(p, nil, time.Millisecond)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ESC"`)
	assert.Equal(t, StateConfiguring, s.State())
}

func TestSessionCancelled(t *testing.T) {
	p := &fakePlayer{steps: []step{{pos: 3}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := NewSession(p, []KeyBinding{}, time.Millisecond).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Outcome{LastPosition: 3}, outcome)
	assert.Empty(t, p.bindings)
}

func TestOutcomeFormatting(t *testing.T) {
	assert.Equal(t, "00:00:00", Outcome{}.Position())
	assert.Equal(t, "01:02:03", Outcome{LastPosition: 3723.4}.Position())
	assert.Equal(t, "finished", Outcome{Finished: true}.Label())
	assert.Equal(t, "user_quit", Outcome{}.Label())
	assert.Equal(t, "running", StateRunning.String())
}
