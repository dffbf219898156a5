package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		want      string
		wantCause bool
	}{
		{
			name:      "session",
			err:       &SessionError{Engine: "anacrolix", Err: cause},
			want:      "failed to open anacrolix session: connection refused",
			wantCause: true,
		},
		{
			name:      "submission with cause",
			err:       &SubmissionError{Engine: "putio", Reason: "add transfer", Err: cause},
			want:      "putio rejected transfer: add transfer: connection refused",
			wantCause: true,
		},
		{
			name: "submission without cause",
			err:  &SubmissionError{Engine: "anacrolix", Reason: "folder exists"},
			want: "anacrolix rejected transfer: folder exists",
		},
		{
			name:      "io with name",
			err:       &IOError{Engine: "anacrolix", Name: "Alien (1979)", Err: cause},
			want:      `anacrolix transfer "Alien (1979)" failed: connection refused`,
			wantCause: true,
		},
		{
			name:      "io without name",
			err:       &IOError{Engine: "putio", Err: cause},
			want:      "putio transfer failed: connection refused",
			wantCause: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())

			if tt.wantCause {
				assert.ErrorIs(t, tt.err, cause)
			} else {
				assert.Nil(t, errors.Unwrap(tt.err))
			}
		})
	}
}

func TestErrorsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("download failed: %w", &IOError{Engine: "anacrolix", Err: context.Canceled})

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "anacrolix", ioErr.Engine)
	assert.ErrorIs(t, err, context.Canceled)

	var subErr *SubmissionError
	assert.False(t, errors.As(err, &subErr))
}

func TestStatsProgress(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{"unknown total", Stats{BytesCompleted: 10}, 0},
		{"half", Stats{BytesCompleted: 50, BytesTotal: 100}, 0.5},
		{"overshoot clamps", Stats{BytesCompleted: 120, BytesTotal: 100}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.stats.Progress(), 1e-9)
		})
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Phase: PhaseDownloading, BytesCompleted: 500_000_000, BytesTotal: 1_000_000_000, Peers: 8, Seeders: 5}
	assert.Equal(t, "downloading: 50.0% 500 MB / 1.0 GB (peers 8, seeders 5)", s.String())

	s = Stats{Phase: PhaseResolving, Peers: 2}
	assert.Equal(t, "resolving: 0 B (peers 2)", s.String())
}
