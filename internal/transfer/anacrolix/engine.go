// Package anacrolix runs transfers in-process with the anacrolix/torrent client.
package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/transfer"
)

// Name identifies this engine in logs, errors and metrics.
const Name = "anacrolix"

const completionPoll = 500 * time.Millisecond

// unnamedFile names the content of a single-file torrent that carries no name.
const unnamedFile = "download"

// Config tunes the embedded client.
type Config struct {
	InfoTimeout time.Duration
	ListenPort  int
	NoDHT       bool
}

// Engine owns one torrent client for the whole process.
type Engine struct {
	client      *torrent.Client
	root        string
	infoTimeout time.Duration
}

// Factory adapts NewEngine to transfer.EngineFactory.
func Factory(cfg Config) transfer.EngineFactory {
	return func(ctx context.Context, downloadRoot string) (transfer.Engine, error) {
		return NewEngine(ctx, downloadRoot, cfg)
	}
}

// NewEngine starts a client that stores every torrent under downloadRoot/<torrent name>.
func NewEngine(ctx context.Context, downloadRoot string, cfg Config) (*Engine, error) {
	if err := os.MkdirAll(downloadRoot, 0o755); err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: fmt.Errorf("failed to create download root: %w", err)}
	}

	clientCfg := torrent.NewDefaultClientConfig()
	clientCfg.DataDir = downloadRoot
	clientCfg.ListenPort = cfg.ListenPort
	clientCfg.NoDHT = cfg.NoDHT
	clientCfg.Seed = false
	clientCfg.DefaultStorage = storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   downloadRoot,
		TorrentDirMaker: torrentDir,
		FilePathMaker:   filePath,
	})

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, &transfer.SessionError{Engine: Name, Err: err}
	}

	logctx.LoggerFromContext(ctx).Info("torrent session opened", "download_root", downloadRoot, "listen_port", cfg.ListenPort)

	return &Engine{client: client, root: downloadRoot, infoTimeout: cfg.InfoTimeout}, nil
}

// torrentDir gives every torrent its own folder, even single-file ones.
func torrentDir(baseDir string, info *metainfo.Info, infoHash metainfo.Hash) string {
	return filepath.Join(baseDir, rootName(info, infoHash))
}

// filePath is relative to torrentDir, which already carries the torrent name.
func filePath(opts storage.FilePathMakerOpts) string {
	if opts.Info.IsDir() {
		return filepath.Join(opts.File.BestPath()...)
	}

	if name, ok := usableName(opts.Info); ok {
		return name
	}

	return unnamedFile
}

// rootName matches the folder storage writes to: the UTF-8 name when present, else the info hash.
func rootName(info *metainfo.Info, infoHash metainfo.Hash) string {
	if name, ok := usableName(info); ok {
		return name
	}

	return infoHash.HexString()
}

func usableName(info *metainfo.Info) (string, bool) {
	if info == nil {
		return "", false
	}

	name := info.BestName()
	if name == "" || name == metainfo.NoName || name == "." || name == ".." || filepath.Base(name) != name {
		return "", false
	}

	return name, true
}

// Submit adds the magnet link and waits for its metadata, bounded by ctx and the info timeout.
func (e *Engine) Submit(ctx context.Context, magnetLink string, opts transfer.SubmitOptions) (transfer.Handle, error) {
	logger := logctx.LoggerFromContext(ctx)

	t, err := e.client.AddMagnet(magnetLink)
	if err != nil {
		return nil, &transfer.SubmissionError{Engine: Name, Reason: "invalid magnet link", Err: err}
	}

	var timeout <-chan time.Time
	if e.infoTimeout > 0 {
		timer := time.NewTimer(e.infoTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	logger.Info("resolving torrent metadata", "info_hash", t.InfoHash().HexString())

	select {
	case <-ctx.Done():
		t.Drop()
		return nil, &transfer.SubmissionError{Engine: Name, Reason: "metadata resolution aborted", Err: ctx.Err()}
	case <-timeout:
		t.Drop()
		return nil, &transfer.SubmissionError{Engine: Name, Reason: "metadata resolution timed out", Err: context.DeadlineExceeded}
	case <-t.GotInfo():
	}

	name := rootName(t.Info(), t.InfoHash())

	if !opts.Overwrite {
		if _, err := os.Stat(filepath.Join(e.root, name)); err == nil {
			t.Drop()
			return nil, &transfer.SubmissionError{Engine: Name, Reason: fmt.Sprintf("%q already exists in %s", name, e.root)}
		}
	}

	logger.Info("torrent metadata resolved", "name", name, "size", t.Length(), "files", len(t.Files()))

	return &handle{t: t, name: name}, nil
}

func (e *Engine) Close() error {
	return errors.Join(e.client.Close()...)
}

type handle struct {
	t    *torrent.Torrent
	name string
}

func (h *handle) RootFolderName() string {
	return h.name
}

func (h *handle) Stats() transfer.Stats {
	st := h.t.Stats()

	s := transfer.Stats{
		Name:           h.name,
		Phase:          transfer.PhaseDownloading,
		BytesCompleted: h.t.BytesCompleted(),
		BytesTotal:     h.t.Length(),
		Peers:          st.ActivePeers,
		Seeders:        st.ConnectedSeeders,
	}

	if s.BytesTotal > 0 && s.BytesCompleted >= s.BytesTotal {
		s.Phase = transfer.PhaseCompleted
	}

	return s
}

func (h *handle) WaitUntilCompleted(ctx context.Context) error {
	h.t.DownloadAll()

	ticker := time.NewTicker(completionPoll)
	defer ticker.Stop()

	for {
		if h.t.BytesMissing() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return &transfer.IOError{Engine: Name, Name: h.name, Err: ctx.Err()}
		case <-h.t.Closed():
			return &transfer.IOError{Engine: Name, Name: h.name, Err: errors.New("torrent closed before completion")}
		case <-ticker.C:
		}
	}
}

func (h *handle) Close() error {
	h.t.Drop()

	return nil
}
