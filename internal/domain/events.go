package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType identifies an observable ledger event.
type EventType string

const (
	EventMinted              EventType = "shares_minted"
	EventConverted           EventType = "shares_converted"
	EventPayment             EventType = "payment_received"
	EventRedeemed            EventType = "shares_redeemed"
	EventCollateralWithdrawn EventType = "collateral_withdrawn"
	EventPaymentWithdrawn    EventType = "payment_withdrawn"
)

// Event records one successful state-changing ledger operation. Exactly one
// event is emitted per successful call and none on a failed call.
type Event struct {
	ID         int64
	BondID     string
	Type       EventType
	Actor      common.Address
	Amount     *uint256.Int
	OccurredAt time.Time
}

// EventSink receives ledger events as they happen. Sinks must not block the
// ledger call path; delivery failures are the sink's problem to log, never
// the ledger's to roll back.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }
