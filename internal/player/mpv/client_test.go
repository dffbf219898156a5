package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mover/internal/player"
)

// fakeMPV answers IPC requests the way mpv does.
type fakeMPV struct {
	listener net.Listener
	path     string

	mu         sync.Mutex
	commands   [][]any
	properties map[string]any
	conn       net.Conn
}

func newFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()

	// unix socket paths are length limited, t.TempDir can be too deep.
	dir, err := os.MkdirTemp("", "mpv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "s")

	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	f := &fakeMPV{listener: l, path: path, properties: map[string]any{}}

	go f.serve()

	return f
}

func (f *fakeMPV) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		reply := map[string]any{"request_id": req.RequestID, "error": "success"}

		switch req.Command[0] {
		case "get_property":
			v, ok := f.properties[fmt.Sprint(req.Command[1])]
			if ok {
				reply["data"] = v
			} else {
				reply["error"] = "property unavailable"
			}
		case "quit":
			f.mu.Unlock()
			conn.Close()
			return
		}
		f.mu.Unlock()

		line, _ := json.Marshal(reply)
		_, _ = conn.Write(append(line, '\n'))
	}
}

func (f *fakeMPV) set(name string, v any) {
	f.mu.Lock()
	f.properties[name] = v
	f.mu.Unlock()
}

func (f *fakeMPV) emit(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, _ = fmt.Fprintf(f.conn, "{\"event\":%q}\n", event)
}

func (f *fakeMPV) sent() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]any(nil), f.commands...)
}

func dial(t *testing.T, f *fakeMPV) *Client {
	t.Helper()

	c, err := Dial(context.Background(), f.path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestClientProperties(t *testing.T) {
	fake := newFakeMPV(t)
	fake.set("time-pos", 12.25)
	fake.set("eof-reached", false)

	c := dial(t, fake)
	ctx := context.Background()

	pos, err := c.FloatProperty(ctx, "time-pos")
	require.NoError(t, err)
	assert.InDelta(t, 12.25, pos, 0.0001)

	eof, err := c.BoolProperty(ctx, "eof-reached")
	require.NoError(t, err)
	assert.False(t, eof)

	_, err = c.FloatProperty(ctx, "duration")

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "property unavailable", cmdErr.Message)
}

func TestClientRegistersKeyBindings(t *testing.T) {
	fake := newFakeMPV(t)
	c := dial(t, fake)

	require.NoError(t, c.RegisterKeyBinding(context.Background(), "SPACE", "cycle pause"))

	sent := fake.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []any{"keybind", "SPACE", "cycle pause"}, sent[0])
}

func TestClientEvents(t *testing.T) {
	fake := newFakeMPV(t)
	c := dial(t, fake)

	// a round trip guarantees the fake has accepted the connection.
	require.NoError(t, c.RegisterKeyBinding(context.Background(), "f", "cycle fullscreen"))

	_, ok := c.WaitEvent(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)

	fake.emit("pause")

	ev, ok := c.WaitEvent(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "pause", ev.Name)
}

func TestClientQuitAndConnectionLoss(t *testing.T) {
	fake := newFakeMPV(t)
	c := dial(t, fake)

	require.NoError(t, c.Quit(context.Background()))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not notice the closed connection")
	}

	ev, ok := c.WaitEvent(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, player.EventShutdown, ev.Name)

	_, err := c.FloatProperty(context.Background(), "time-pos")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientDrivesSession(t *testing.T) {
	fake := newFakeMPV(t)
	fake.set("time-pos", 42.0)
	fake.set("eof-reached", false)

	c := dial(t, fake)

	go func() {
		time.Sleep(100 * time.Millisecond)
		fake.emit(player.EventShutdown)
	}()

	outcome, err := player.NewSession(c, nil, 5*time.Millisecond).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Finished)
	assert.InDelta(t, 42.0, outcome.LastPosition, 0.0001)

	bindings := 0
	for _, cmd := range fake.sent() {
		if cmd[0] == "keybind" {
			bindings++
		}
	}
	assert.Equal(t, len(player.DefaultKeyBindings()), bindings)
}

func TestDialMissingSocket(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	require.Error(t, err)
}
