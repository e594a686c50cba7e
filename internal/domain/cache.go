package domain

import "context"

// BookCache mirrors live book state into a shared cache so reporting
// readers outside the process can observe it without touching the feed.
type BookCache interface {
	SetSnapshot(ctx context.Context, tokenID string, update BookUpdate) error
	GetSnapshot(ctx context.Context, tokenID string) (BookUpdate, error)
	SetTop(ctx context.Context, top TopOfBook) error
	GetTop(ctx context.Context, tokenID string) (TopOfBook, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for ephemeral fan-out and durable, ordered
// streams for execution history.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
