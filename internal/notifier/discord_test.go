package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mover/internal/player"
)

func TestDiscordNotifierPostsContent(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL)
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, map[string]string{"content": "hello"}, got)
}

func TestDiscordNotifierErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.URL).Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	err = (&DiscordNotifier{}).Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook URL is not set")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), "ignored"))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Download finished: **Alien (1979)**\n`downloads/Alien/alien.mkv`",
		DownloadFinished("Alien (1979)", "downloads/Alien/alien.mkv"))
	assert.Equal(t, "Download failed: **Alien (1979)**\nno peers",
		DownloadFailed("Alien (1979)", errors.New("no peers")))
	assert.Equal(t, "Finished watching **Alien (1979)**",
		PlaybackEnded("Alien (1979)", player.Outcome{Finished: true}))
	assert.Equal(t, "Stopped watching **Alien (1979)** at 00:01:05",
		PlaybackEnded("Alien (1979)", player.Outcome{LastPosition: 65}))
}
