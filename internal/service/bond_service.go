// Package service wires the issuance gate and the live ledgers to the
// persistence, cache, event, and notification backends.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/factory"
	"github.com/convertfi/bondd/internal/ledger"
	"github.com/convertfi/bondd/internal/notify"
)

// Deps carries the optional backends a BondService fans events out to. Any
// field may be nil; the service degrades to in-memory behaviour for whatever
// is missing.
type Deps struct {
	Bonds    domain.BondStore
	Events   domain.EventStore
	Bus      domain.EventBus
	Cache    domain.SupplyCache
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// BondService owns the issuance gate and exposes every ledger operation and
// query behind one API. Each successful state change is journaled, published
// on the event bus, mirrored into the supply cache, and forwarded to the
// notifier.
type BondService struct {
	gate *factory.Factory

	bonds    domain.BondStore
	events   domain.EventStore
	bus      domain.EventBus
	cache    domain.SupplyCache
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewBondService builds the service and its issuance gate. The service
// installs itself as the event sink of every ledger the gate creates.
func NewBondService(gateCfg factory.Config, opener factory.AccountOpener, deps Deps) *BondService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BondService{
		bonds:    deps.Bonds,
		events:   deps.Events,
		bus:      deps.Bus,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		logger:   logger.With(slog.String("component", "bond_service")),
	}
	s.gate = factory.New(gateCfg, opener,
		factory.WithLogger(logger),
		factory.WithLedgerOptions(ledger.WithEventSink(domain.EventSinkFunc(s.handleEvent)), ledger.WithLogger(logger)),
	)
	return s
}

// --- issuance ---

// CreateBond creates and registers a new bond ledger, then persists its
// registry row.
func (s *BondService) CreateBond(ctx context.Context, issuer common.Address, cfg domain.BondConfig) (domain.Bond, error) {
	bond, led, err := s.gate.Create(issuer, cfg)
	if err != nil {
		return domain.Bond{}, err
	}

	if s.bonds != nil {
		if err := s.bonds.Create(ctx, bond); err != nil {
			return domain.Bond{}, fmt.Errorf("bond_service: persist bond %s: %w", bond.ID, err)
		}
	}
	s.refreshCache(ctx, led)
	return bond, nil
}

// SetAllowListEnabled toggles issuer gating. Owner only.
func (s *BondService) SetAllowListEnabled(caller common.Address, enabled bool) error {
	return s.gate.SetAllowListEnabled(caller, enabled)
}

// Allow adds an issuer to the allow list. Owner only.
func (s *BondService) Allow(caller, issuer common.Address) error {
	return s.gate.Allow(caller, issuer)
}

// Disallow removes an issuer from the allow list. Owner only.
func (s *BondService) Disallow(caller, issuer common.Address) error {
	return s.gate.Disallow(caller, issuer)
}

// --- ledger operations ---

// Mint issues shares to the caller against pre-approved collateral.
func (s *BondService) Mint(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.Mint(ctx, caller, shares)
	})
}

// Convert burns the caller's shares for collateral at the convertible ratio.
func (s *BondService) Convert(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.Convert(ctx, caller, shares)
	})
}

// Pay deposits payment token into the bond on the issuer's behalf.
func (s *BondService) Pay(ctx context.Context, bondID string, caller common.Address, amount *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.Pay(ctx, caller, amount)
	})
}

// Redeem burns the caller's shares for payment token one-to-one.
func (s *BondService) Redeem(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.Redeem(ctx, caller, shares)
	})
}

// WithdrawCollateral sweeps unlocked collateral to the recipient. Issuer only.
func (s *BondService) WithdrawCollateral(ctx context.Context, bondID string, caller, to common.Address, amount *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.WithdrawExcessCollateral(ctx, caller, to, amount)
	})
}

// WithdrawPayment recovers overpaid payment token. Issuer only.
func (s *BondService) WithdrawPayment(ctx context.Context, bondID string, caller, to common.Address, amount *uint256.Int) error {
	return s.mutate(ctx, bondID, func(led *ledger.Ledger) error {
		return led.WithdrawExcessPayment(ctx, caller, to, amount)
	})
}

// mutate runs one ledger operation and refreshes the supply cache on
// success.
func (s *BondService) mutate(ctx context.Context, bondID string, op func(*ledger.Ledger) error) error {
	led, err := s.gate.Ledger(bondID)
	if err != nil {
		return err
	}
	if err := op(led); err != nil {
		return err
	}
	s.refreshCache(ctx, led)
	return nil
}

// --- queries ---

// GetBond returns the registry entry for a bond, falling back to the
// persistent store for bonds not resident in memory.
func (s *BondService) GetBond(ctx context.Context, bondID string) (domain.Bond, error) {
	bond, err := s.gate.Bond(bondID)
	if err == nil {
		return bond, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.bonds == nil {
		return domain.Bond{}, err
	}
	return s.bonds.GetByID(ctx, bondID)
}

// ListBonds returns registered bonds from the persistent store, or from the
// in-memory registry when no store is configured.
func (s *BondService) ListBonds(ctx context.Context, opts domain.ListOpts) ([]domain.Bond, error) {
	if s.bonds != nil {
		return s.bonds.List(ctx, opts)
	}
	return s.gate.Bonds(), nil
}

// Ledger returns the live ledger for a bond.
func (s *BondService) Ledger(bondID string) (*ledger.Ledger, error) {
	return s.gate.Ledger(bondID)
}

// BalanceOf returns a holder's share balance, serving from the supply cache
// when possible.
func (s *BondService) BalanceOf(ctx context.Context, bondID string, holder common.Address) (*uint256.Int, error) {
	if s.cache != nil {
		if bal, err := s.cache.GetBalance(ctx, bondID, holder); err == nil {
			return bal, nil
		}
	}
	led, err := s.gate.Ledger(bondID)
	if err != nil {
		return nil, err
	}
	return led.BalanceOf(holder), nil
}

// Supply returns the outstanding share supply and the cumulative amount
// paid, serving from the supply cache when possible.
func (s *BondService) Supply(ctx context.Context, bondID string) (supply, paid *uint256.Int, err error) {
	if s.cache != nil {
		if supply, paid, err = s.cache.GetSupply(ctx, bondID); err == nil {
			return supply, paid, nil
		}
	}
	led, err := s.gate.Ledger(bondID)
	if err != nil {
		return nil, nil, err
	}
	return led.TotalSupply(), led.Paid(), nil
}

// Status derives the bond's lifecycle state.
func (s *BondService) Status(ctx context.Context, bondID string) (domain.BondStatus, error) {
	led, err := s.gate.Ledger(bondID)
	if err != nil {
		return "", err
	}
	return led.Status(ctx)
}

// AmountOwed returns the payment shortfall against the outstanding supply.
func (s *BondService) AmountOwed(ctx context.Context, bondID string) (*uint256.Int, error) {
	led, err := s.gate.Ledger(bondID)
	if err != nil {
		return nil, err
	}
	return led.AmountOwed(ctx)
}

// Events returns a bond's journal slice.
func (s *BondService) Events(ctx context.Context, bondID string, opts domain.ListOpts) ([]domain.Event, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.ListByBond(ctx, bondID, opts)
}

// Subscribe opens a live event feed for one bond, or all bonds with "*".
// It returns domain.ErrNotFound when no event bus is configured.
func (s *BondService) Subscribe(ctx context.Context, bondID string) (<-chan domain.Event, func(), error) {
	if s.bus == nil {
		return nil, nil, domain.ErrNotFound
	}
	return s.bus.Subscribe(ctx, bondID)
}

// --- event fan-out ---

// handleEvent is the sink installed on every ledger. It runs inside the
// ledger's emit path, so the backend fan-out is pushed to a goroutine with a
// detached context rather than blocking the operation.
func (s *BondService) handleEvent(ctx context.Context, ev domain.Event) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if s.events != nil {
			if err := s.events.Append(bg, ev); err != nil {
				s.logger.Error("journal append failed",
					slog.String("bond", ev.BondID), slog.String("error", err.Error()))
			}
		}
		if s.bus != nil {
			if err := s.bus.Publish(bg, ev); err != nil {
				s.logger.Error("event publish failed",
					slog.String("bond", ev.BondID), slog.String("error", err.Error()))
			}
		}
		if s.notifier != nil {
			name := ev.BondID
			if bond, err := s.gate.Bond(ev.BondID); err == nil {
				name = bond.Config.Symbol
			}
			if err := s.notifier.NotifyEvent(bg, name, ev); err != nil {
				s.logger.Warn("event notify failed",
					slog.String("bond", ev.BondID), slog.String("error", err.Error()))
			}
		}

		// The actor's balance may have changed even when supply did not.
		if s.cache != nil {
			if led, err := s.gate.Ledger(ev.BondID); err == nil {
				if err := s.cache.SetBalance(bg, ev.BondID, ev.Actor, led.BalanceOf(ev.Actor)); err != nil {
					s.logger.Warn("balance cache update failed",
						slog.String("bond", ev.BondID), slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// refreshCache mirrors the ledger's supply figures into the cache. Cache
// write failures are logged, never surfaced; the cache is a read replica.
func (s *BondService) refreshCache(ctx context.Context, led *ledger.Ledger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSupply(ctx, led.ID(), led.TotalSupply(), led.Paid()); err != nil {
		s.logger.Warn("supply cache update failed",
			slog.String("bond", led.ID()), slog.String("error", err.Error()))
	}
}
