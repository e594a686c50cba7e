package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfall/crossarb/internal/domain"
)

// ArchiveStore is the narrow store surface the archiver needs: a time-ranged
// status query. The Postgres PositionStore satisfies it implicitly.
type ArchiveStore interface {
	ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.ArbitragePosition, error)
}

// Archiver implements domain.PositionArchiver by querying terminal
// positions, serialising them to JSONL, and uploading the result to object
// storage. Deleting archived rows from the primary store is intentionally a
// separate, explicit step taken after the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions ArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver writing through the given BlobWriter.
func NewArchiver(writer domain.BlobWriter, positions ArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		logger:    logger.With(slog.String("component", "position_archiver")),
	}
}

// ArchiveSettled uploads all terminal positions opened strictly before the
// cutoff to archive/positions/YYYY-MM.jsonl and returns the record count.
// Both Settled and Unwound positions are included: an unwound pair is part
// of the strategy's history too.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	opts := domain.ListOpts{Until: &before}

	var records []domain.ArbitragePosition
	for _, status := range []domain.PositionStatus{
		domain.PositionStatusSettled,
		domain.PositionStatusUnwound,
	} {
		batch, err := a.positions.ListByStatus(ctx, status, opts)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive query %s: %w", status, err)
		}
		records = append(records, batch...)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archived positions",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the object key, partitioned by the year-month of the
// cutoff time, e.g. archive/positions/2026-08.jsonl.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/positions/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.PositionArchiver = (*Archiver)(nil)
