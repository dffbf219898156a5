package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReportsEveryIntervalAndAtEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 2500)

	var deltas, reads []int64
	pr := NewReader(bytes.NewReader(data), int64(len(data)), 1000, func(delta, read, total int64) {
		deltas = append(deltas, delta)
		reads = append(reads, read)
		assert.Equal(t, int64(2500), total)
	})

	buf := make([]byte, 500)
	for {
		_, err := pr.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{1000, 2000, 2500}, reads)
	assert.Equal(t, []int64{1000, 1000, 500}, deltas)
	assert.Equal(t, int64(2500), pr.BytesRead())

	var sum int64
	for _, d := range deltas {
		sum += d
	}
	assert.Equal(t, int64(len(data)), sum)
}

func TestReaderEmptySource(t *testing.T) {
	called := false
	pr := NewReader(bytes.NewReader(nil), 0, 10, func(int64, int64, int64) { called = true })

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}
