// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Alerts carry an event type and a severity; routine
// events are filtered by the operator's subscription list, urgent ones
// always go out.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Event types emitted by the trading loop.
const (
	EventOpportunity     = "opportunity"
	EventPositionOpened  = "position_opened"
	EventPositionSettled = "position_settled"
	EventUnwindFailed    = "unwind_failed"
)

// Severity classifies an alert for rendering and filtering.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityUrgent Severity = "urgent"
)

// severityFor maps an event type to its severity. Only an unwind failure is
// urgent: it means a naked leg is open and an operator has to act.
func severityFor(event string) Severity {
	if event == EventUnwindFailed {
		return SeverityUrgent
	}
	return SeverityInfo
}

// Alert is one operator-facing notification.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Message  string
	At       time.Time
}

// Sender renders and delivers an alert on one channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// subscribed event types; Notify drops events outside the set unless they
// are urgent.
type Notifier struct {
	senders []Sender
	events  map[string]bool // subscribed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// An empty events slice subscribes to everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	subscribed := make(map[string]bool, len(events))
	for _, e := range events {
		subscribed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  subscribed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify builds an alert for the event and delivers it to every sender.
// Urgent events bypass the subscription filter: a stranded leg that could
// not be closed must always reach the operator.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	a := Alert{
		Event:    event,
		Severity: severityFor(event),
		Title:    title,
		Message:  message,
		At:       time.Now().UTC(),
	}
	if a.Severity != SeverityUrgent && len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, a)
}

// dispatch delivers to every sender. Errors are collected and returned as a
// combined error; one sender failing does not stop delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// postJSON posts the payload and treats any non-2xx response as an error,
// quoting up to 1 KiB of the body.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
