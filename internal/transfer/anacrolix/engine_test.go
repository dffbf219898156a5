package anacrolix

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mover/internal/transfer"
)

func newTestEngine(t *testing.T, infoTimeout time.Duration) *Engine {
	t.Helper()

	engine, err := NewEngine(context.Background(), t.TempDir(), Config{
		InfoTimeout: infoTimeout,
		ListenPort:  0,
		NoDHT:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func TestTorrentDir(t *testing.T) {
	hash := metainfo.NewHashFromHex("e6b1b4d5f2c0a2d4b5a6c7d8e9f0a1b2c3d4e5f6")

	tests := []struct {
		name string
		info *metainfo.Info
		want string
	}{
		{
			name: "multi file",
			info: &metainfo.Info{Name: "Alien (1979)", Files: []metainfo.FileInfo{{Length: 1, Path: []string{"a.mkv"}}}},
			want: "Alien (1979)",
		},
		{
			name: "utf-8 name wins",
			info: &metainfo.Info{Name: "Alien", NameUtf8: "Alien-utf8", Files: []metainfo.FileInfo{{Length: 1, Path: []string{"a.mkv"}}}},
			want: "Alien-utf8",
		},
		{
			name: "single file",
			info: &metainfo.Info{Name: "Alien.1979.mkv", Length: 1},
			want: "Alien.1979.mkv",
		},
		{
			name: "unnamed",
			info: &metainfo.Info{Files: []metainfo.FileInfo{{Length: 1, Path: []string{"a.mkv"}}}},
			want: hash.HexString(),
		},
		{
			name: "no name marker",
			info: &metainfo.Info{Name: metainfo.NoName, Length: 1},
			want: hash.HexString(),
		},
		{
			name: "name escaping the root",
			info: &metainfo.Info{Name: "../etc", Length: 1},
			want: hash.HexString(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.Join("/data", tt.want), torrentDir("/data", tt.info, hash))
		})
	}
}

func TestFilePath(t *testing.T) {
	multi := &metainfo.Info{Name: "Alien", NameUtf8: "Alien-utf8"}
	file := &metainfo.FileInfo{Path: []string{"Subs", "en.srt"}, Length: 1}
	multi.Files = []metainfo.FileInfo{*file}
	assert.Equal(t, filepath.Join("Subs", "en.srt"), filePath(storage.FilePathMakerOpts{Info: multi, File: file}))

	utf8 := &metainfo.FileInfo{Path: []string{"a.mkv"}, PathUtf8: []string{"b.mkv"}, Length: 1}
	assert.Equal(t, "b.mkv", filePath(storage.FilePathMakerOpts{Info: multi, File: utf8}))

	single := &metainfo.Info{Name: "Alien.1979.mkv", Length: 1}
	assert.Equal(t, "Alien.1979.mkv", filePath(storage.FilePathMakerOpts{Info: single, File: &metainfo.FileInfo{Length: 1}}))

	unnamed := &metainfo.Info{Length: 1}
	assert.Equal(t, unnamedFile, filePath(storage.FilePathMakerOpts{Info: unnamed, File: &metainfo.FileInfo{Length: 1}}))
}

// seed builds a torrent from the files under dir and serves it from a loopback client.
func seed(t *testing.T, dir string, name, nameUTF8 string) (*torrent.Client, metainfo.Hash) {
	t.Helper()

	info := metainfo.Info{PieceLength: 16 << 10}
	require.NoError(t, info.BuildFromFilePath(dir))
	info.Name = name
	info.NameUtf8 = nameUTF8

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := &metainfo.MetaInfo{InfoBytes: infoBytes}

	cfg := torrent.TestingConfig(t)
	cfg.Seed = true
	cfg.DataDir = filepath.Dir(dir)

	seeder, err := torrent.NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { seeder.Close() })

	st, err := seeder.AddTorrent(mi)
	require.NoError(t, err)
	st.VerifyData()

	return seeder, mi.HashInfoBytes()
}

func TestDownloadLandsInReportedFolder(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Alien-utf8")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.mkv"), bytes.Repeat([]byte("movie"), 10<<10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("notes"), 0o644))

	seeder, hash := seed(t, src, "Alien", "Alien-utf8")

	root := t.TempDir()
	engine, err := NewEngine(context.Background(), root, Config{InfoTimeout: 20 * time.Second, NoDHT: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	link := "magnet:?xt=urn:btih:" + hash.HexString()

	// Submit reuses the torrent already added here, which knows the seeder.
	pending, err := engine.client.AddMagnet(link)
	require.NoError(t, err)
	pending.AddClientPeer(seeder)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := engine.Submit(ctx, link, transfer.SubmitOptions{Overwrite: true})
	require.NoError(t, err)
	require.NoError(t, h.WaitUntilCompleted(ctx))

	assert.Equal(t, "Alien-utf8", h.RootFolderName())
	assert.Equal(t, transfer.PhaseCompleted, h.Stats().Phase)

	movie, err := os.ReadFile(filepath.Join(root, h.RootFolderName(), "a.mkv"))
	require.NoError(t, err)
	assert.Len(t, movie, 50<<10)
	assert.FileExists(t, filepath.Join(root, h.RootFolderName(), "b.txt"))
	assert.NoDirExists(t, filepath.Join(root, "Alien"))

	require.NoError(t, h.Close())
}

func TestSubmitRejectsInvalidMagnet(t *testing.T) {
	engine := newTestEngine(t, time.Second)

	_, err := engine.Submit(context.Background(), "https://example.com/not-a-magnet", transfer.SubmitOptions{Overwrite: true})

	var subErr *transfer.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, Name, subErr.Engine)
}

func TestSubmitTimesOutWithoutMetadata(t *testing.T) {
	engine := newTestEngine(t, 50*time.Millisecond)

	_, err := engine.Submit(context.Background(),
		"magnet:?xt=urn:btih:e6b1b4d5f2c0a2d4b5a6c7d8e9f0a1b2c3d4e5f6&dn=nobody",
		transfer.SubmitOptions{Overwrite: true})

	var subErr *transfer.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitHonoursContext(t *testing.T) {
	engine := newTestEngine(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Submit(ctx,
		"magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567",
		transfer.SubmitOptions{Overwrite: true})

	var subErr *transfer.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryOpensSession(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "downloads")

	engine, err := Factory(Config{NoDHT: true})(context.Background(), root)
	require.NoError(t, err)
	defer engine.Close()

	assert.DirExists(t, root)
}
