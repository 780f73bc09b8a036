package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// DiscordNotifier posts alert messages to a Discord webhook endpoint.
type DiscordNotifier struct {
	url    string
	client *http.Client
}

// NewDiscordNotifier creates a Discord webhook notifier.
// url: the webhook endpoint to POST alerts to.
func NewDiscordNotifier(url string) *DiscordNotifier {
	return &DiscordNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, rec model.AlertRecord) error {
	body, err := json.Marshal(map[string]string{
		"content": "**" + formatAlert(rec) + "**",
	})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}
	return nil
}
