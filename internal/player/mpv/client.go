// Package mpv talks to an mpv process over its JSON IPC socket.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/mover/internal/player"
)

// ErrClosed is returned for commands issued after the connection went away.
var ErrClosed = errors.New("mpv connection closed")

// CommandError is a command mpv answered with something other than "success".
type CommandError struct {
	Command []any
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mpv command %v failed: %s", e.Command, e.Message)
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is either a reply (RequestID set) or an event.
type message struct {
	Event     string          `json:"event,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID *int64          `json:"request_id,omitempty"`
}

// Client implements player.Player on top of one IPC connection.
type Client struct {
	conn   net.Conn
	nextID atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan message

	events chan player.Event
	done   chan struct{}
	once   sync.Once
}

// Dial connects to the IPC socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mpv socket %s: %w", path, err)
	}

	return NewClient(conn), nil
}

// NewClient takes ownership of conn and starts reading from it.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan message),
		events:  make(chan player.Event, 64),
		done:    make(chan struct{}),
	}

	go c.readLoop()

	return c
}

func (c *Client) readLoop() {
	defer c.shutdown()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		if msg.Event != "" {
			select {
			case c.events <- player.Event{Name: msg.Event}:
			default:
			}

			continue
		}

		if msg.RequestID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.RequestID]
		delete(c.pending, *msg.RequestID)
		c.mu.Unlock()

		if ok {
			ch <- msg
		}
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Command sends a raw mpv command and returns the reply data.
func (c *Client) Command(ctx context.Context, args ...any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	reply := make(chan message, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	line, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode mpv command: %w", err)
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(line, '\n'))
	c.writeMu.Unlock()

	if err != nil {
		select {
		case <-c.done:
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("failed to send mpv command: %w", err)
		}
	}

	select {
	case msg := <-reply:
		if msg.Error != "success" {
			return nil, &CommandError{Command: args, Message: msg.Error}
		}

		return msg.Data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) RegisterKeyBinding(ctx context.Context, key, command string) error {
	_, err := c.Command(ctx, "keybind", key, command)
	return err
}

func (c *Client) FloatProperty(ctx context.Context, name string) (float64, error) {
	var v float64
	if err := c.property(ctx, name, &v); err != nil {
		return 0, err
	}

	return v, nil
}

func (c *Client) BoolProperty(ctx context.Context, name string) (bool, error) {
	var v bool
	if err := c.property(ctx, name, &v); err != nil {
		return false, err
	}

	return v, nil
}

func (c *Client) property(ctx context.Context, name string, v any) error {
	data, err := c.Command(ctx, "get_property", name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode property %s: %w", name, err)
	}

	return nil
}

// WaitEvent reports a lost connection as a shutdown event.
func (c *Client) WaitEvent(ctx context.Context, timeout time.Duration) (player.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-c.events:
		return ev, true
	case <-c.done:
		return player.Event{Name: player.EventShutdown}, true
	case <-ctx.Done():
		return player.Event{}, false
	case <-timer.C:
		return player.Event{}, false
	}
}

// Quit asks mpv to exit. A connection closed mid-reply counts as success.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Command(ctx, "quit")
	if errors.Is(err, ErrClosed) {
		return nil
	}

	return err
}

func (c *Client) Close() error {
	c.shutdown()
	return nil
}
