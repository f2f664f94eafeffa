package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultDiscordUsername = "TripWire Monitor"
	// alertColor is the embed sidebar colour, a plain red (0xFF0000).
	alertColor = 16711680
)

// discordService posts alert messages to a Discord channel webhook
// (§4.8). Constructed from `discord://{channel_id}@{token}?username=...`.
type discordService struct {
	webhookURL string
	username   string
	client     *http.Client
}

func newDiscordService(u *url.URL) (*discordService, error) {
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("notify: discord uri missing channel id")
	}
	channelID := u.User.Username()
	token := u.Host
	if token == "" {
		return nil, fmt.Errorf("notify: discord uri missing webhook token")
	}

	username := u.Query().Get("username")
	if username == "" {
		username = defaultDiscordUsername
	}

	return &discordService{
		webhookURL: fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", channelID, token),
		username:   username,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *discordService) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(discordPayload{
		Username: d.username,
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: alertColor}},
	})
	if err != nil {
		return fmt.Errorf("notify: marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookURL exposes the constructed webhook URL for tests (§8 scenario 5).
func (d *discordService) WebhookURL() string { return d.webhookURL }

// Username exposes the resolved username for tests.
func (d *discordService) Username() string { return d.username }
