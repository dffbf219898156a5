package deluge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/mover/internal/logctx"
)

const sessionCookie = "_session_id"

// RPCError is an error reported inside a JSON-RPC reply.
type RPCError struct {
	Method  string
	Message string
	Code    int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deluge %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// Client speaks the Deluge Web UI JSON-RPC protocol.
type Client struct {
	BaseURL  string
	APIPath  string
	Username string
	Password string

	httpClient *http.Client
	// fileClient has no timeout; file fetches are bounded by their context.
	fileClient *http.Client
	nextID     atomic.Int64

	mu     sync.Mutex
	cookie string
}

func NewClient(baseURL, apiPath, username, password string, insecure bool) *Client {
	client := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIPath:    apiPath,
		Username:   username,
		Password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		fileClient: &http.Client{},
	}

	if insecure {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
		client.httpClient.Transport = transport
		client.fileClient.Transport = transport
	}

	return client
}

// Authenticate logs in and keeps the session cookie for later calls.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "auth.login")

	var ok bool
	if err := c.call(ctx, "auth.login", []any{c.Password}, &ok); err != nil {
		return err
	}

	if !ok {
		return &RPCError{Method: "auth.login", Message: "invalid password"}
	}

	logger.Debug("success")

	return nil
}

// AddMagnet returns the torrent id deluge assigned.
func (c *Client) AddMagnet(ctx context.Context, magnetLink string) (string, error) {
	var id *string
	if err := c.call(ctx, "core.add_torrent_magnet", []any{magnetLink, map[string]any{}}, &id); err != nil {
		return "", err
	}

	if id == nil || *id == "" {
		return "", &RPCError{Method: "core.add_torrent_magnet", Message: "torrent was not added"}
	}

	return *id, nil
}

// File is one file of a torrent, its path relative to SavePath.
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// TorrentStatus is the subset of core.get_torrent_status the engine reads.
type TorrentStatus struct {
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Message    string  `json:"message"`
	Progress   float64 `json:"progress"`
	TotalSize  int64   `json:"total_wanted"`
	TotalDone  int64   `json:"total_done"`
	NumPeers   int     `json:"num_peers"`
	NumSeeds   int     `json:"num_seeds"`
	SavePath   string  `json:"save_path"`
	Files      []File  `json:"files"`
	IsFinished bool    `json:"is_finished"`
}

var statusKeys = []string{
	"name", "state", "message", "progress", "total_wanted", "total_done",
	"num_peers", "num_seeds", "save_path", "files", "is_finished",
}

func (c *Client) TorrentStatus(ctx context.Context, id string) (TorrentStatus, error) {
	var st TorrentStatus
	err := c.call(ctx, "core.get_torrent_status", []any{id, statusKeys}, &st)

	return st, err
}

func (c *Client) RemoveTorrent(ctx context.Context, id string, removeData bool) error {
	var removed bool
	return c.call(ctx, "core.remove_torrent", []any{id, removeData}, &removed)
}

// Open streams a completed file served from the seedbox's web root.
func (c *Client) Open(ctx context.Context, savePath, filePath string) (io.ReadCloser, int64, error) {
	p := strings.TrimPrefix(strings.TrimSuffix(savePath, "/")+"/"+filePath, "/")
	url := c.BaseURL + "/" + p

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	c.addCookie(req)

	resp, err := c.fileClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download file: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("failed to download file %s: %s", filePath, resp.Status)
	}

	return resp.Body, resp.ContentLength, nil
}

func (c *Client) addCookie(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.cookie})
	}
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	body, err := json.Marshal(map[string]any{
		"id":     c.nextID.Add(1),
		"method": method,
		"params": params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.APIPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.addCookie(req)

	logger.Debug("sending rpc request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s request failed: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.mu.Lock()
			c.cookie = cookie.Value
			c.mu.Unlock()
		}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return &RPCError{Method: method, Message: rpcResp.Error.Message, Code: rpcResp.Error.Code}
	}

	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}

	return nil
}
