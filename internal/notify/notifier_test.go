package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	mu     sync.Mutex
	name   string
	err    error
	alerts []Alert
}

func (s *captureSender) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSender) Name() string { return s.name }

func TestNotifyFiltersUnsubscribedEvents(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionSettled}, discard())

	require.NoError(t, n.Notify(context.Background(), EventOpportunity, "t", "m"))
	require.Empty(t, sender.alerts)

	require.NoError(t, n.Notify(context.Background(), EventPositionSettled, "t", "m"))
	require.Len(t, sender.alerts, 1)
	require.Equal(t, SeverityInfo, sender.alerts[0].Severity)
	require.False(t, sender.alerts[0].At.IsZero())
}

func TestUnwindFailureBypassesFilter(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionSettled}, discard())

	require.NoError(t, n.Notify(context.Background(), EventUnwindFailed, "URGENT", "leg stuck"))
	require.Len(t, sender.alerts, 1)
	require.Equal(t, SeverityUrgent, sender.alerts[0].Severity)
}

func TestOneSenderFailingDoesNotStopTheRest(t *testing.T) {
	broken := &captureSender{name: "broken", err: errors.New("boom")}
	healthy := &captureSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discard())

	err := n.Notify(context.Background(), EventPositionOpened, "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	require.Len(t, healthy.alerts, 1)
}

func TestTelegramRendersSeverity(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramSender("token", "chat-1")
	tg.api = srv.URL
	tg.httpc = srv.Client()

	require.NoError(t, tg.Send(context.Background(), Alert{
		Event:    EventUnwindFailed,
		Severity: SeverityUrgent,
		Title:    "URGENT: unwind failed",
		Message:  "<stranded>",
	}))

	require.Equal(t, "chat-1", got["chat_id"])
	require.Equal(t, "HTML", got["parse_mode"])
	require.Equal(t, false, got["disable_notification"])
	require.Contains(t, got["text"], "<b>URGENT: unwind failed</b>")
	require.Contains(t, got["text"], "&lt;stranded&gt;")
}

func TestDiscordEmbedColorsBySeverity(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title string `json:"title"`
			Color int    `json:"color"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), Alert{
		Event:    EventUnwindFailed,
		Severity: SeverityUrgent,
		Title:    "URGENT",
		Message:  "leg stuck",
	}))
	require.Len(t, got.Embeds, 1)
	require.Equal(t, discordRed, got.Embeds[0].Color)
}

func TestPostJSONSurfacesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad chat id", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := postJSON(context.Background(), srv.Client(), srv.URL, map[string]string{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Contains(t, err.Error(), "bad chat id")
}
