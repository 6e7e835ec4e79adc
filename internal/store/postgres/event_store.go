package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertfi/bondd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The journal is
// append-only; rows are never updated or deleted.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event row.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO bond_events (bond_id, event_type, actor, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		ev.BondID, string(ev.Type), ev.Actor.Hex(), ev.Amount.Dec(), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event for %s: %w", ev.BondID, err)
	}
	return nil
}

// ListByBond returns a bond's events in journal order.
func (s *EventStore) ListByBond(ctx context.Context, bondID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT id, bond_id, event_type, actor, amount, occurred_at
		FROM bond_events WHERE bond_id = $1`
	args := []any{bondID}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args)+1)
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", len(args)+1)
		args = append(args, *opts.Until)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", bondID, err)
	}
	defer rows.Close()

	var list []domain.Event
	for rows.Next() {
		var (
			ev            domain.Event
			typ           string
			actor, amount string
		)
		if err := rows.Scan(&ev.ID, &ev.BondID, &typ, &actor, &amount, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Actor = common.HexToAddress(actor)
		if ev.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("postgres: parse event amount: %w", err)
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

// CountByBond returns the journal length for a bond.
func (s *EventStore) CountByBond(ctx context.Context, bondID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bond_events WHERE bond_id = $1`, bondID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events for %s: %w", bondID, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
