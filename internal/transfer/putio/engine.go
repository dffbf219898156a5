// Package putio runs transfers on a put.io seedbox and fetches the finished files locally.
package putio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/transfer"
	"github.com/italolelis/mover/internal/transfer/progress"
)

// Name identifies this engine in logs, errors and metrics.
const Name = "putio"

const (
	dirPerm          = 0o755
	progressInterval = 8 << 20
	cancelTimeout    = 10 * time.Second
)

// Config tunes the put.io engine.
type Config struct {
	Token        string
	BaseURL      string
	PollInterval time.Duration
	MaxParallel  int
}

// Engine submits magnet links to put.io.
type Engine struct {
	putioClient  *putio.Client
	httpClient   *http.Client
	root         string
	pollInterval time.Duration
	maxParallel  int

	createFile func(name string) (io.WriteCloser, error)
}

// Factory adapts NewEngine to transfer.EngineFactory.
func Factory(cfg Config) transfer.EngineFactory {
	return func(ctx context.Context, downloadRoot string) (transfer.Engine, error) {
		return NewEngine(ctx, downloadRoot, cfg)
	}
}

// NewEngine authenticates against put.io and prepares downloadRoot.
func NewEngine(ctx context.Context, downloadRoot string, cfg Config) (*Engine, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := putio.NewClient(oauth2.NewClient(context.Background(), tokenSource))

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, &transfer.SessionError{Engine: Name, Err: fmt.Errorf("invalid base url: %w", err)}
		}

		client.BaseURL = u
	}

	return newEngine(ctx, client, http.DefaultClient, downloadRoot, cfg)
}

func newEngine(ctx context.Context, client *putio.Client, httpClient *http.Client, downloadRoot string, cfg Config) (*Engine, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(downloadRoot, dirPerm); err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: fmt.Errorf("failed to create download root: %w", err)}
	}

	user, err := client.Account.Info(ctx)
	if err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: fmt.Errorf("failed to get account info: %w", err)}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}

	return &Engine{
		putioClient:  client,
		httpClient:   httpClient,
		root:         downloadRoot,
		pollInterval: cfg.PollInterval,
		maxParallel:  cfg.MaxParallel,
		createFile:   createFile,
	}, nil
}

func (e *Engine) Submit(ctx context.Context, magnetLink string, opts transfer.SubmitOptions) (transfer.Handle, error) {
	logger := logctx.LoggerFromContext(ctx)

	t, err := e.putioClient.Transfers.Add(ctx, magnetLink, 0, "")
	if err != nil {
		return nil, &transfer.SubmissionError{Engine: Name, Reason: "add transfer", Err: err}
	}

	logger.InfoContext(ctx, "transfer added to Put.io", "transfer_id", t.ID, "name", t.Name)

	h := &handle{engine: e, id: t.ID, overwrite: opts.Overwrite}
	h.update(t)

	return h, nil
}

func (e *Engine) Close() error {
	return nil
}

// remoteFile is a file on put.io and its path relative to the transfer's root folder.
type remoteFile struct {
	ID   int64
	Path string
	Size int64
}

type handle struct {
	engine    *Engine
	id        int64
	overwrite bool

	mu        sync.Mutex
	stats     transfer.Stats
	rootName  string
	completed bool

	fetched atomic.Int64
}

func (h *handle) update(t putio.Transfer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Name = t.Name
	h.stats.Phase = transfer.PhaseDownloading
	h.stats.BytesTotal = int64(t.Size)
	h.stats.BytesCompleted = t.Downloaded
	h.stats.Peers = t.PeersConnected
	h.stats.Seeders = t.PeersSendingToUs

	if h.rootName == "" {
		h.rootName = t.Name
	}
}

func (h *handle) Stats() transfer.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	if s.Phase == transfer.PhaseFetching {
		s.BytesCompleted = h.fetched.Load()
	}

	return s
}

func (h *handle) RootFolderName() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.rootName
}

func (h *handle) WaitUntilCompleted(ctx context.Context) error {
	t, err := h.waitRemote(ctx)
	if err != nil {
		return err
	}

	files, rootName, err := h.listFiles(ctx, t.FileID)
	if err != nil {
		return &transfer.IOError{Engine: Name, Name: t.Name, Err: err}
	}

	target, err := transfer.LocalPath(h.engine.root, rootName)
	if err != nil {
		return &transfer.IOError{Engine: Name, Name: t.Name, Err: err}
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	h.mu.Lock()
	h.rootName = rootName
	h.stats.Phase = transfer.PhaseFetching
	h.stats.BytesTotal = total
	h.stats.Peers, h.stats.Seeders = 0, 0
	h.mu.Unlock()

	if !h.overwrite {
		if _, err := os.Stat(target); err == nil {
			return &transfer.IOError{Engine: Name, Name: t.Name, Err: fmt.Errorf("%s already exists", target)}
		}
	}

	if err := h.fetch(ctx, target, files); err != nil {
		return &transfer.IOError{Engine: Name, Name: t.Name, Err: err}
	}

	h.mu.Lock()
	h.stats.Phase = transfer.PhaseCompleted
	h.stats.BytesCompleted = total
	h.completed = true
	h.mu.Unlock()

	return nil
}

// waitRemote polls put.io until the transfer has produced a file.
func (h *handle) waitRemote(ctx context.Context) (putio.Transfer, error) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", h.id)

	ticker := time.NewTicker(h.engine.pollInterval)
	defer ticker.Stop()

	for {
		t, err := h.engine.putioClient.Transfers.Get(ctx, h.id)
		if err != nil {
			if ctx.Err() != nil {
				return t, &transfer.IOError{Engine: Name, Err: ctx.Err()}
			}

			logger.WarnContext(ctx, "failed to poll transfer", "err", err)
		} else {
			h.update(t)

			switch strings.ToUpper(t.Status) {
			case "ERROR":
				return t, &transfer.IOError{Engine: Name, Name: t.Name, Err: fmt.Errorf("remote transfer failed: %s", t.ErrorMessage)}
			case "COMPLETED", "SEEDING", "FINISHED":
				if t.FileID != 0 {
					logger.InfoContext(ctx, "remote transfer completed", "name", t.Name, "file_id", t.FileID)
					return t, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return t, &transfer.IOError{Engine: Name, Name: t.Name, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// listFiles walks the transfer's output. A single-file transfer is placed in a folder named after the file.
func (h *handle) listFiles(ctx context.Context, fileID int64) ([]remoteFile, string, error) {
	root, err := h.engine.putioClient.Files.Get(ctx, fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file: %w", err)
	}

	if !root.IsDir() {
		return []remoteFile{{ID: root.ID, Path: root.Name, Size: root.Size}}, root.Name, nil
	}

	files, err := h.listDir(ctx, root.ID, "")
	if err != nil {
		return nil, "", err
	}

	return files, root.Name, nil
}

func (h *handle) listDir(ctx context.Context, parentID int64, basePath string) ([]remoteFile, error) {
	children, _, err := h.engine.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var result []remoteFile

	for _, f := range children {
		if f.IsDir() {
			nested, err := h.listDir(ctx, f.ID, filepath.Join(basePath, f.Name))
			if err != nil {
				return nil, err
			}

			result = append(result, nested...)

			continue
		}

		result = append(result, remoteFile{ID: f.ID, Path: filepath.Join(basePath, f.Name), Size: f.Size})
	}

	return result, nil
}

func (h *handle) fetch(ctx context.Context, target string, files []remoteFile) error {
	paths := make([]string, len(files))
	for i, f := range files {
		p, err := transfer.LocalPath(target, f.Path)
		if err != nil {
			return err
		}

		paths[i] = p
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.engine.maxParallel)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			return h.fetchFile(ctx, f, paths[i])
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to fetch files: %w", err)
	}

	return nil
}

func (h *handle) fetchFile(ctx context.Context, f remoteFile, targetPath string) error {
	logger := logctx.LoggerFromContext(ctx).With("file_id", f.ID)

	fileURL, err := h.engine.putioClient.Files.URL(ctx, f.ID, false)
	if err != nil {
		return fmt.Errorf("failed to get file download url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := h.engine.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to get file %s: HTTP %d", f.Path, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := h.engine.createFile(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	logger.InfoContext(ctx, "fetching file", "file_path", targetPath, "file_size", humanize.Bytes(uint64(f.Size)))

	pr := progress.NewReader(resp.Body, f.Size, progressInterval, func(delta, _, _ int64) {
		h.fetched.Add(delta)
	})

	if _, err := io.Copy(out, pr); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close target file: %w", err)
	}

	return nil
}

func createFile(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// Close cancels the remote transfer if it never completed.
func (h *handle) Close() error {
	h.mu.Lock()
	completed := h.completed
	h.mu.Unlock()

	if completed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	if err := h.engine.putioClient.Transfers.Cancel(ctx, h.id); err != nil {
		return fmt.Errorf("failed to cancel transfer: %w", err)
	}

	return nil
}
