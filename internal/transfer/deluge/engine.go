// Package deluge runs transfers on a Deluge seedbox and fetches the finished files over HTTP.
package deluge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/transfer"
	"github.com/italolelis/mover/internal/transfer/progress"
)

// Name identifies this engine in logs, errors and metrics.
const Name = "deluge"

const (
	dirPerm          = 0o755
	progressInterval = 5 << 20
	removeTimeout    = 10 * time.Second
)

type Config struct {
	BaseURL      string
	APIPath      string
	Username     string
	Password     string
	Insecure     bool
	PollInterval time.Duration
	MaxParallel  int
}

type Engine struct {
	client       *Client
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

// NewEngine logs into the Deluge Web UI and prepares downloadRoot.
func NewEngine(ctx context.Context, downloadRoot string, cfg Config) (*Engine, error) {
	if err := os.MkdirAll(downloadRoot, dirPerm); err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: fmt.Errorf("failed to create download root: %w", err)}
	}

	client := NewClient(cfg.BaseURL, cfg.APIPath, cfg.Username, cfg.Password, cfg.Insecure)

	if err := client.Authenticate(ctx); err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: err}
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "authenticated with Deluge", "url", cfg.BaseURL)

	return &Engine{
		client:       client,
		root:         downloadRoot,
		pollInterval: cfg.PollInterval,
		maxParallel:  cfg.MaxParallel,
		createFile:   createFile,
	}, nil
}

func (e *Engine) Submit(ctx context.Context, magnetLink string, opts transfer.SubmitOptions) (transfer.Handle, error) {
	id, err := e.client.AddMagnet(ctx, magnetLink)
	if err != nil {
		return nil, &transfer.SubmissionError{Engine: Name, Reason: "add magnet", Err: err}
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent added to Deluge", "torrent_id", id)

	h := &handle{engine: e, id: id, overwrite: opts.Overwrite}
	h.stats.Phase = transfer.PhaseResolving

	return h, nil
}

func (e *Engine) Close() error {
	return nil
}

type handle struct {
	engine    *Engine
	id        string
	overwrite bool

	mu        sync.Mutex
	stats     transfer.Stats
	rootName  string
	completed bool

	fetched atomic.Int64
}

func (h *handle) update(st TorrentStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Name = st.Name
	h.stats.Phase = transfer.PhaseDownloading
	if st.TotalSize == 0 {
		h.stats.Phase = transfer.PhaseResolving
	}
	h.stats.BytesTotal = st.TotalSize
	h.stats.BytesCompleted = st.TotalDone
	h.stats.Peers = st.NumPeers
	h.stats.Seeders = st.NumSeeds
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
	st, err := h.waitRemote(ctx)
	if err != nil {
		return err
	}

	rootName, files := layout(st)

	target, err := transfer.LocalPath(h.engine.root, rootName)
	if err != nil {
		return &transfer.IOError{Engine: Name, Name: st.Name, Err: err}
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
			return &transfer.IOError{Engine: Name, Name: st.Name, Err: fmt.Errorf("%s already exists", target)}
		}
	}

	if err := h.fetch(ctx, st.SavePath, target, files); err != nil {
		return &transfer.IOError{Engine: Name, Name: st.Name, Err: err}
	}

	h.mu.Lock()
	h.stats.Phase = transfer.PhaseCompleted
	h.stats.BytesCompleted = total
	h.completed = true
	h.mu.Unlock()

	return nil
}

func (h *handle) waitRemote(ctx context.Context) (TorrentStatus, error) {
	logger := logctx.LoggerFromContext(ctx).With("torrent_id", h.id)

	ticker := time.NewTicker(h.engine.pollInterval)
	defer ticker.Stop()

	for {
		st, err := h.engine.client.TorrentStatus(ctx, h.id)
		if err != nil {
			if ctx.Err() != nil {
				return st, &transfer.IOError{Engine: Name, Err: ctx.Err()}
			}

			logger.WarnContext(ctx, "failed to poll torrent", "err", err)
		} else {
			h.update(st)

			if strings.EqualFold(st.State, "Error") {
				return st, &transfer.IOError{Engine: Name, Name: st.Name, Err: fmt.Errorf("remote torrent failed: %s", st.Message)}
			}

			if (st.IsFinished || st.Progress >= 100) && len(st.Files) > 0 {
				logger.InfoContext(ctx, "remote torrent completed", "name", st.Name)
				return st, nil
			}
		}

		select {
		case <-ctx.Done():
			return st, &transfer.IOError{Engine: Name, Name: st.Name, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// remoteFile maps a deluge file path to its slash-separated path under the local root folder.
type remoteFile struct {
	Remote string
	Local  string
	Size   int64
}

// layout picks the root folder: the torrent's top directory, or the file name for single-file torrents.
func layout(st TorrentStatus) (string, []remoteFile) {
	if len(st.Files) == 1 && !strings.Contains(st.Files[0].Path, "/") {
		f := st.Files[0]
		return f.Path, []remoteFile{{Remote: f.Path, Local: f.Path, Size: f.Size}}
	}

	root := st.Name
	if top, _, ok := strings.Cut(st.Files[0].Path, "/"); ok {
		root = top
	}

	files := make([]remoteFile, 0, len(st.Files))
	for _, f := range st.Files {
		files = append(files, remoteFile{Remote: f.Path, Local: strings.TrimPrefix(f.Path, root+"/"), Size: f.Size})
	}

	return root, files
}

func (h *handle) fetch(ctx context.Context, savePath, target string, files []remoteFile) error {
	paths := make([]string, len(files))
	for i, f := range files {
		p, err := transfer.LocalPath(target, f.Local)
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
			return h.fetchFile(ctx, savePath, f, paths[i])
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to fetch files: %w", err)
	}

	return nil
}

func (h *handle) fetchFile(ctx context.Context, savePath string, f remoteFile, targetPath string) error {
	logger := logctx.LoggerFromContext(ctx)

	body, size, err := h.engine.client.Open(ctx, savePath, f.Remote)
	if err != nil {
		return err
	}
	defer body.Close()

	if size <= 0 {
		size = f.Size
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := h.engine.createFile(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	logger.InfoContext(ctx, "fetching file", "file_path", targetPath, "file_size", humanize.Bytes(uint64(max(size, 0))))

	pr := progress.NewReader(body, size, progressInterval, func(delta, _, _ int64) {
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

// Close removes the torrent and its data from the seedbox if it never completed.
func (h *handle) Close() error {
	h.mu.Lock()
	completed := h.completed
	h.mu.Unlock()

	if completed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := h.engine.client.RemoveTorrent(ctx, h.id, true); err != nil {
		return fmt.Errorf("failed to remove torrent: %w", err)
	}

	return nil
}
