package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BondStore persists the bond registry.
type BondStore interface {
	Create(ctx context.Context, bond Bond) error
	GetByID(ctx context.Context, id string) (Bond, error)
	List(ctx context.Context, opts ListOpts) ([]Bond, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only per-bond event journal.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByBond(ctx context.Context, bondID string, opts ListOpts) ([]Event, error)
	CountByBond(ctx context.Context, bondID string) (int64, error)
}

// EventBus fans ledger events out to off-chain consumers.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, bondID string) (<-chan Event, func(), error)
}

// SupplyCache serves hot reads of per-bond supply and holder balances so the
// query surface does not hit the ledger lock for every poll.
type SupplyCache interface {
	SetSupply(ctx context.Context, bondID string, supply, paid *uint256.Int) error
	GetSupply(ctx context.Context, bondID string) (supply, paid *uint256.Int, err error)
	SetBalance(ctx context.Context, bondID string, holder common.Address, balance *uint256.Int) error
	GetBalance(ctx context.Context, bondID string, holder common.Address) (*uint256.Int, error)
}

// BlobWriter uploads opaque objects, used to archive settled bond journals.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
