package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

// TelegramSender delivers alerts through the Telegram Bot API sendMessage
// endpoint.
type TelegramSender struct {
	api   string // base URL, overridable in tests
	token string
	chat  string
	httpc *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		api:   "https://api.telegram.org",
		token: token,
		chat:  chatID,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send renders the alert as an HTML message. Routine alerts are delivered
// silently; urgent ones ring the chat.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	var sb strings.Builder
	if a.Severity == SeverityUrgent {
		sb.WriteString("⚠️ ")
	}
	fmt.Fprintf(&sb, "<b>%s</b>\n%s", html.EscapeString(a.Title), html.EscapeString(a.Message))
	if a.Event != "" {
		fmt.Fprintf(&sb, "\n<i>%s</i>", html.EscapeString(a.Event))
	}

	payload := map[string]any{
		"chat_id":              t.chat,
		"text":                 sb.String(),
		"parse_mode":           "HTML",
		"disable_notification": a.Severity != SeverityUrgent,
	}
	endpoint := t.api + "/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.httpc, endpoint, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
