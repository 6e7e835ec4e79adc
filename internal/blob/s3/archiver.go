package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convertfi/bondd/internal/domain"
)

// journalPageSize is how many journal rows are pulled per store query while
// building an archive file.
const journalPageSize = 1000

// BondArchiveStore provides read access to the bond registry for archival
// purposes. The Postgres BondStore satisfies it implicitly.
type BondArchiveStore interface {
	GetByID(ctx context.Context, id string) (domain.Bond, error)
}

// EventArchiveStore provides read access to the event journal for archival
// purposes. The Postgres EventStore satisfies it implicitly.
type EventArchiveStore interface {
	ListByBond(ctx context.Context, bondID string, opts domain.ListOpts) ([]domain.Event, error)
}

// Archiver exports a bond's full event journal to object storage as JSONL.
// It is invoked for matured bonds whose journal is no longer growing;
// deletion of the archived rows from the primary store is intentionally NOT
// performed here.
type Archiver struct {
	writer domain.BlobWriter
	bonds  BondArchiveStore
	events EventArchiveStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, bonds BondArchiveStore, events EventArchiveStore) *Archiver {
	return &Archiver{
		writer: writer,
		bonds:  bonds,
		events: events,
	}
}

// archiveRecord is one JSONL line in the exported journal.
type archiveRecord struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ArchiveBond serializes the bond's entire journal to JSONL and uploads it
// to bonds/{id}/journal-YYYY-MM-DD.jsonl, keyed by the archival date. It
// returns the number of records archived.
func (a *Archiver) ArchiveBond(ctx context.Context, bondID string, asOf time.Time) (int64, error) {
	bond, err := a.bonds.GetByID(ctx, bondID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bond lookup: %w", err)
	}

	var (
		buf    bytes.Buffer
		count  int64
		offset int
	)
	enc := json.NewEncoder(&buf)
	for {
		page, err := a.events.ListByBond(ctx, bondID, domain.ListOpts{
			Limit:  journalPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive bond query: %w", err)
		}
		for _, ev := range page {
			rec := archiveRecord{
				ID:         ev.ID,
				Type:       string(ev.Type),
				Actor:      ev.Actor.Hex(),
				Amount:     ev.Amount.Dec(),
				OccurredAt: ev.OccurredAt,
			}
			if err := enc.Encode(rec); err != nil {
				return 0, fmt.Errorf("s3blob: archive bond marshal: %w", err)
			}
			count++
		}
		if len(page) < journalPageSize {
			break
		}
		offset += journalPageSize
	}

	if count == 0 {
		return 0, nil
	}

	path := archivePath(bond.ID, asOf)
	if err := a.writer.Put(ctx, path, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive bond upload: %w", err)
	}
	return count, nil
}

// archivePath builds the S3 key for a bond journal export.
//
//	bonds/5f6c.../journal-2026-08-24.jsonl
func archivePath(bondID string, asOf time.Time) string {
	return fmt.Sprintf("bonds/%s/journal-%s.jsonl", bondID, asOf.Format("2006-01-02"))
}
