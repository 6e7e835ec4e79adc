package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/fixedpoint"
)

// The invariant suite drives the ledger with random operation sequences from
// several actors and re-checks the numeric invariants after every single
// step. Failures here are design defects, not runtime conditions.

type harness struct {
	t          *testing.T
	rng        *rand.Rand
	f          *fixture
	actors     []common.Address
	maxSupply  *uint256.Int
	paidTotal  *uint256.Int
	claimTotal *uint256.Int
}

func newHarness(t *testing.T, seed int64) *harness {
	t.Helper()
	f := newFixture(t)
	h := &harness{
		t:   t,
		rng: rand.New(rand.NewSource(seed)),
		f:   f,
		actors: []common.Address{
			common.HexToAddress("0x0000000000000000000000000000000000000011"),
			common.HexToAddress("0x0000000000000000000000000000000000000012"),
			common.HexToAddress("0x0000000000000000000000000000000000000013"),
			common.HexToAddress("0x0000000000000000000000000000000000000014"),
		},
		maxSupply:  f.ledger.Config().MaxSupply,
		paidTotal:  new(uint256.Int),
		claimTotal: new(uint256.Int),
	}
	for _, a := range h.actors {
		f.fund(a, 5_000_000)
		f.fundPayment(a, 5_000_000)
	}
	return h
}

func (h *harness) actor() common.Address {
	return h.actors[h.rng.Intn(len(h.actors))]
}

func (h *harness) amount() *uint256.Int {
	return uint256.NewInt(uint64(h.rng.Intn(5_000) + 1))
}

// step runs one random operation. Failed operations are fine; the invariants
// must hold either way.
func (h *harness) step(ctx context.Context) {
	a := h.actor()
	v := h.amount()
	switch h.rng.Intn(5) {
	case 0:
		_ = h.f.ledger.Mint(ctx, a, v)
	case 1:
		_ = h.f.ledger.Convert(ctx, a, v)
	case 2:
		if err := h.f.ledger.Pay(ctx, a, v); err == nil {
			h.paidTotal = new(uint256.Int).Add(h.paidTotal, v)
		}
	case 3:
		if err := h.f.ledger.Redeem(ctx, a, v); err == nil {
			h.claimTotal = new(uint256.Int).Add(h.claimTotal, v)
		}
	case 4:
		// Oversized redeem: must always revert without touching state.
		bal := h.f.ledger.BalanceOf(a)
		over, carry := new(uint256.Int).AddOverflow(bal, uint256.NewInt(1))
		if carry {
			return
		}
		if err := h.f.ledger.Redeem(ctx, a, over); !errors.Is(err, domain.ErrInsufficientShareBalance) && !errors.Is(err, domain.ErrInsufficientPaymentBalance) {
			h.t.Fatalf("oversized redeem did not revert: %v", err)
		}
		if got := h.f.ledger.BalanceOf(a); !got.Eq(bal) {
			h.t.Fatalf("oversized redeem moved balance %s -> %s", bal, got)
		}
	}
}

func (h *harness) checkInvariants(ctx context.Context) {
	h.t.Helper()
	supply := h.f.ledger.TotalSupply()

	// Supply cap.
	if supply.Gt(h.maxSupply) {
		h.t.Fatalf("supply %s exceeds cap %s", supply, h.maxSupply)
	}

	// Conservation: holder balances sum exactly to totalSupply, and no
	// single holder exceeds it.
	sum := new(uint256.Int)
	for _, a := range h.actors {
		bal := h.f.ledger.BalanceOf(a)
		if bal.Gt(supply) {
			h.t.Fatalf("holder %s balance %s exceeds supply %s", a, bal, supply)
		}
		sum = new(uint256.Int).Add(sum, bal)
	}
	if !sum.Eq(supply) {
		h.t.Fatalf("conservation broken: sum %s != supply %s", sum, supply)
	}

	// Collateralization: the ledger holds at least supply*collateralRatio.
	needed, err := fixedpoint.ScaleDown(supply, h.f.ledger.Config().CollateralRatio)
	if err != nil {
		h.t.Fatalf("collateral needed: %v", err)
	}
	held := h.f.collateral.BalanceOf(vault)
	if held.Lt(needed) {
		h.t.Fatalf("under-collateralized: held %s < needed %s", held, needed)
	}

	// Redemptions never pay out more than was deposited.
	if h.claimTotal.Gt(h.paidTotal) {
		h.t.Fatalf("redeemed %s exceeds deposited %s", h.claimTotal, h.paidTotal)
	}
	if got := h.f.ledger.Paid(); !got.Eq(h.paidTotal) {
		h.t.Fatalf("paid accounting drifted: %s != %s", got, h.paidTotal)
	}
}

func TestInvariants_RandomSequences(t *testing.T) {
	ctx := context.Background()
	for _, seed := range []int64{1, 7, 42, 1337, 99991} {
		h := newHarness(t, seed)
		for i := 0; i < 2_000; i++ {
			h.step(ctx)
			h.checkInvariants(ctx)
		}
	}
}

func TestInvariants_AcrossMaturity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20260824)
	maturity := h.f.ledger.Config().MaturityDate

	for i := 0; i < 3_000; i++ {
		// Walk the clock through maturity mid-sequence.
		if i == 1_500 {
			h.f.clock.now = maturity.Add(time.Second)
		}
		h.step(ctx)
		h.checkInvariants(ctx)

		if !h.f.clock.now.Before(maturity) {
			// Conversion must be dead after the cutoff.
			err := h.f.ledger.Convert(ctx, h.actor(), uint256.NewInt(1))
			if !errors.Is(err, domain.ErrBondMatured) {
				t.Fatalf("convert allowed after maturity: %v", err)
			}
		}
	}
}

func TestInvariants_PayNeverCapped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	// With zero supply the obligation is zero; arbitrary payments must
	// still be accepted, not rejected as overpayment.
	for i := 0; i < 50; i++ {
		if err := h.f.ledger.Pay(ctx, h.actor(), h.amount()); err != nil {
			t.Fatalf("payment %d rejected: %v", i, err)
		}
		h.checkInvariants(ctx)
	}
}
