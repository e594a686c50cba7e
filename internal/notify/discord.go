package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed accent colors.
const (
	discordBlue = 0x3498db
	discordRed  = 0xe74c3c
)

// DiscordSender delivers alerts through a Discord webhook as embeds, red
// for urgent and blue for everything else.
type DiscordSender struct {
	webhook string
	httpc   *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhook: webhookURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert as a single embed. Discord answers 204 No Content on
// success.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	color := discordBlue
	if a.Severity == SeverityUrgent {
		color = discordRed
	}
	embed := map[string]any{
		"title":       a.Title,
		"description": a.Message,
		"color":       color,
	}
	if !a.At.IsZero() {
		embed["timestamp"] = a.At.Format(time.RFC3339)
	}
	if a.Event != "" {
		embed["footer"] = map[string]any{"text": a.Event}
	}

	payload := map[string]any{"embeds": []map[string]any{embed}}
	if err := postJSON(ctx, d.httpc, d.webhook, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
