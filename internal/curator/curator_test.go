package curator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1 << 20

// writeFile creates a sparse file of the given size.
func writeFile(t *testing.T, dir, name string, size int64) {
	t.Helper()

	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names
}

func TestCurateSingleVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movie.mkv", 10)
	writeFile(t, dir, "movie.srt", 1)
	writeFile(t, dir, "sample.txt", 1)

	got, err := New(Options{}, nil).Curate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "movie.mkv"), got)
	assert.Equal(t, []string{"movie.mkv", "movie.srt"}, listNames(t, dir))
}

func TestCurateRemovesDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Feature.MP4", 10)

	sample := filepath.Join(dir, "Sample")
	require.NoError(t, os.MkdirAll(filepath.Join(sample, "nested"), 0o755))
	writeFile(t, sample, "sample.mkv", 5)
	writeFile(t, filepath.Join(sample, "nested"), "cover.jpg", 5)
	writeFile(t, dir, "RARBG.nfo", 1)
	writeFile(t, dir, "README", 1)

	got, err := New(Options{}, nil).Curate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Feature.MP4"), got)
	assert.Equal(t, []string{"Feature.MP4"}, listNames(t, dir))
}

func TestCuratePicksLargestWhenSeveralVideos(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp4", 100*mb)
	writeFile(t, dir, "b.mp4", 250*mb)
	writeFile(t, dir, "a.srt", 1)

	got, err := New(Options{}, nil).Curate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "b.mp4"), got)
}

func TestCurateTieBreakConsidersSubtitles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp4", 10)
	writeFile(t, dir, "b.mkv", 20)
	writeFile(t, dir, "huge.srt", 30)

	got, err := New(Options{}, nil).Curate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "huge.srt"), got)

	got, err = New(Options{TieBreakVideoOnly: true}, nil).Curate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.mkv"), got)
}

func TestCurateNoMedia(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]int64
	}{
		{name: "empty folder"},
		{name: "only non-media", files: map[string]int64{"notes.txt": 1, "cover.jpg": 2}},
		{name: "only subtitles", files: map[string]int64{"movie.srt": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, size := range tt.files {
				writeFile(t, dir, name, size)
			}

			_, err := New(Options{}, nil).Curate(context.Background(), dir)
			require.ErrorIs(t, err, ErrNoMediaFound)
		})
	}
}

func TestCurateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.avi", 100*mb)
	writeFile(t, dir, "b.mov", 250*mb)
	writeFile(t, dir, "info.txt", 1)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "extras"), 0o755))

	c := New(Options{}, nil)

	first, err := c.Curate(context.Background(), dir)
	require.NoError(t, err)
	before := listNames(t, dir)

	second, err := c.Curate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, listNames(t, dir))
}

func TestCurateCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movie.webm", 10)
	writeFile(t, dir, "movie.ass", 1)
	writeFile(t, dir, "movie.mkv", 1)

	c := New(Options{VideoExtensions: []string{".WEBM"}, SubtitleExtensions: []string{"ass"}}, nil)

	got, err := c.Curate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "movie.webm"), got)
	assert.Equal(t, []string{"movie.ass", "movie.webm"}, listNames(t, dir))
}

func TestCurateMissingFolder(t *testing.T) {
	_, err := New(Options{}, nil).Curate(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMediaFound)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "mkv", extension("Movie.MKV"))
	assert.Equal(t, "", extension("README"))
	assert.Equal(t, "gz", extension("archive.tar.gz"))
}
