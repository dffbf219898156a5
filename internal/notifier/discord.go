package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/mover/internal/player"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{WebhookURL: webhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

func DownloadFinished(title, path string) string {
	return fmt.Sprintf("Download finished: **%s**\n`%s`", title, path)
}

func DownloadFailed(title string, err error) string {
	return fmt.Sprintf("Download failed: **%s**\n%v", title, err)
}

func PlaybackEnded(title string, outcome player.Outcome) string {
	if outcome.Finished {
		return fmt.Sprintf("Finished watching **%s**", title)
	}

	return fmt.Sprintf("Stopped watching **%s** at %s", title, outcome.Position())
}
