// Package feed maintains the live books for the pair's outcome tokens from
// a venue WebSocket market-data stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfall/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxReconnectDelay caps the exponential backoff between reconnects.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler is called for each full book snapshot.
type BookHandler func(ctx context.Context, update domain.BookUpdate)

// DeltaHandler is called for each incremental level update.
type DeltaHandler func(ctx context.Context, delta domain.BookDelta)

// Config holds the feed endpoint and connection policy.
type Config struct {
	WsURL          string
	TokenIDs       []string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// BookFeed connects to the venue market-data WebSocket, subscribes to book
// and price_change for the configured tokens, and invokes the handlers on
// each message. It reconnects with exponential backoff on disconnect.
type BookFeed struct {
	cfg       Config
	onBook    BookHandler
	onDelta   DeltaHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewBookFeed creates a feed for the given token IDs.
func NewBookFeed(cfg Config, onBook BookHandler, onDelta DeltaHandler, logger *slog.Logger) *BookFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	return &BookFeed{
		cfg:     cfg,
		onBook:  onBook,
		onDelta: onDelta,
		logger:  logger.With(slog.String("component", "book_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and consumes the stream until ctx is cancelled or Close is
// called. Each disconnect triggers a fresh dial after a backoff delay; the
// delay doubles per consecutive failure and resets after a healthy session.
func (f *BookFeed) Run(ctx context.Context) error {
	if len(f.cfg.TokenIDs) == 0 {
		f.logger.Info("no tokens to subscribe, exiting")
		return nil
	}

	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		start := time.Now()
		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that survived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			delay = f.cfg.ReconnectDelay
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *BookFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection dials, subscribes, and reads until the connection breaks.
func (f *BookFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(dialCtx, f.cfg.WsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.cfg.WsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, channel := range []string{"book", "price_change"} {
		cmd := wsCommand{Type: "subscribe", Channel: channel, Assets: f.cfg.TokenIDs}
		data, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("feed: marshal subscribe: %w", err)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", channel, err)
		}
	}
	f.logger.Info("feed subscribed", slog.Int("tokens", len(f.cfg.TokenIDs)))

	// Close the socket when ctx or the feed ends so ReadMessage unblocks.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-readerDone:
			return
		}
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}()

	// Keep-alive pings.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-readerDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w (%v)", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, raw)
	}
}

// handleMessage routes a raw frame by its event type. Some venues batch
// multiple events in a JSON array; both forms are accepted.
func (f *BookFeed) handleMessage(ctx context.Context, raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			f.handleEvent(ctx, item)
		}
		return
	}
	f.handleEvent(ctx, raw)
}

func (f *BookFeed) handleEvent(ctx context.Context, raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable frames
	}

	switch envelope.EventType {
	case "book":
		var msg bookMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.AssetID == "" {
			return
		}
		if f.onBook != nil {
			f.onBook(ctx, msg.toBookUpdate())
		}

	case "price_change":
		var msg priceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.AssetID == "" {
			return
		}
		delta, err := msg.toBookDelta()
		if err != nil {
			f.logger.Debug("bad price change", slog.String("error", err.Error()))
			return
		}
		if f.onDelta != nil {
			f.onDelta(ctx, delta)
		}
	}
}
