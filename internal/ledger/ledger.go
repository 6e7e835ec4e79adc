// Package ledger implements the bond's core state machine: minting shares
// against posted collateral, converting shares back into collateral before
// maturity, accepting issuer payments, and redeeming shares for payment
// token one-to-one.
//
// Every operation is all-or-nothing. Inbound token pulls happen before any
// balance mutation, so a failed pull leaves the ledger untouched; outbound
// pushes happen after the mutation and the mutation is rolled back if the
// push fails. Maturity is evaluated against the injected clock at call time,
// never stored, so there is no phase flag to drift out of sync.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/fixedpoint"
)

// Ledger is the state machine for one bond instance. The zero value is
// unusable; construct with New and arm with Initialize.
type Ledger struct {
	mu sync.Mutex

	initialized bool
	id          string
	cfg         domain.BondConfig
	collateral  domain.TokenAccount
	payment     domain.TokenAccount

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	paid        *uint256.Int
	redeemed    *uint256.Int

	now    func() time.Time
	sink   domain.EventSink
	logger *slog.Logger
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the time source used for the maturity check.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEventSink attaches a sink receiving one event per successful
// state-changing call.
func WithEventSink(sink domain.EventSink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithLogger attaches a logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New allocates an uninitialized ledger. It accepts no configuration: the
// issuance gate arms it through the one-time Initialize call, mirroring a
// clone-then-initialize deployment.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		paid:        new(uint256.Int),
		redeemed:    new(uint256.Int),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize arms the ledger with its immutable config and token
// capabilities. Callable exactly once; repeats fail with
// ErrAlreadyInitialized. The config must already be validated by the
// issuance gate, but the ratio ordering is re-checked here since a violation
// would corrupt every later conversion.
func (l *Ledger) Initialize(id string, cfg domain.BondConfig, collateral, payment domain.TokenAccount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return domain.ErrAlreadyInitialized
	}
	if cfg.CollateralRatio == nil || cfg.ConvertibleRatio == nil || cfg.MaxSupply == nil {
		return domain.ErrInvalidConfig
	}
	if cfg.ConvertibleRatio.Gt(cfg.CollateralRatio) {
		return domain.ErrInvalidConfig
	}
	if collateral == nil || payment == nil {
		return domain.ErrInvalidConfig
	}

	l.id = id
	l.cfg = cfg
	l.cfg.CollateralRatio = cfg.CollateralRatio.Clone()
	l.cfg.ConvertibleRatio = cfg.ConvertibleRatio.Clone()
	l.cfg.MaxSupply = cfg.MaxSupply.Clone()
	l.collateral = collateral
	l.payment = payment
	l.initialized = true
	l.logger = l.logger.With(slog.String("bond", id))
	return nil
}

// Mint issues shares to the caller against collateral pulled through the
// caller's pre-approved allowance. The required collateral is
// shares*collateralRatio rounded up, so the ledger is never left under-
// collateralized by truncation.
func (l *Ledger) Mint(ctx context.Context, caller common.Address, shares *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(shares); err != nil {
		return err
	}

	newSupply, carry := new(uint256.Int).AddOverflow(l.totalSupply, shares)
	if carry {
		return domain.ErrOverflow
	}
	if newSupply.Gt(l.cfg.MaxSupply) {
		return domain.ErrExceedsMaxSupply
	}

	required, err := fixedpoint.ScaleUp(shares, l.cfg.CollateralRatio)
	if err != nil {
		return err
	}

	// Pull before mutating: a failed pull leaves the ledger untouched.
	if err := l.collateral.TransferIn(ctx, caller, required); err != nil {
		return fmt.Errorf("ledger: mint collateral pull: %w", err)
	}

	l.credit(caller, shares)
	l.totalSupply = newSupply
	l.emit(ctx, domain.EventMinted, caller, shares)
	return nil
}

// Convert burns the caller's shares and returns shares*convertibleRatio
// collateral, rounded down. A pre-maturity right only: at or after the
// maturity timestamp it fails with ErrBondMatured. The residual collateral
// per share stays with the ledger and accrues to the issuer.
func (l *Ledger) Convert(ctx context.Context, caller common.Address, shares *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(shares); err != nil {
		return err
	}
	if !l.now().Before(l.cfg.MaturityDate) {
		return domain.ErrBondMatured
	}
	bal := l.balance(caller)
	if bal.Lt(shares) {
		return domain.ErrInsufficientShareBalance
	}

	out, err := fixedpoint.ScaleDown(shares, l.cfg.ConvertibleRatio)
	if err != nil {
		return err
	}

	l.debit(caller, shares)
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, shares)

	if err := l.collateral.TransferOut(ctx, caller, out); err != nil {
		// Roll back the burn; a failure here means the ledger is under-
		// collateralized, which the mint path makes unreachable.
		l.credit(caller, shares)
		l.totalSupply = new(uint256.Int).Add(l.totalSupply, shares)
		return fmt.Errorf("ledger: convert collateral push: %w", err)
	}

	l.emit(ctx, domain.EventConverted, caller, shares)
	return nil
}

// Pay pulls payment token from the caller into the ledger. Deliberately
// unbounded and permissionless: anyone may deposit on the issuer's behalf,
// and overpayment is tolerated rather than rejected.
func (l *Ledger) Pay(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(amount); err != nil {
		return err
	}
	if err := l.payment.TransferIn(ctx, caller, amount); err != nil {
		return fmt.Errorf("ledger: payment pull: %w", err)
	}

	l.paid = new(uint256.Int).Add(l.paid, amount)
	l.emit(ctx, domain.EventPayment, caller, amount)
	return nil
}

// Redeem burns the caller's shares for payment token one-to-one. Available
// at any time the caller holds enough shares; it fails with
// ErrInsufficientPaymentBalance when the ledger cannot cover the payout,
// which is the default path, and never corrupts share accounting on failure.
func (l *Ledger) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(shares); err != nil {
		return err
	}
	bal := l.balance(caller)
	if bal.Lt(shares) {
		return domain.ErrInsufficientShareBalance
	}
	held, err := l.payment.Balance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: payment balance: %w", err)
	}
	if held.Lt(shares) {
		return domain.ErrInsufficientPaymentBalance
	}

	l.debit(caller, shares)
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, shares)

	if err := l.payment.TransferOut(ctx, caller, shares); err != nil {
		l.credit(caller, shares)
		l.totalSupply = new(uint256.Int).Add(l.totalSupply, shares)
		return fmt.Errorf("ledger: redeem payment push: %w", err)
	}

	l.redeemed = new(uint256.Int).Add(l.redeemed, shares)
	l.emit(ctx, domain.EventRedeemed, caller, shares)
	return nil
}

// WithdrawExcessCollateral sends collateral not locked by outstanding shares
// to the recipient. Issuer only. This is the sweep path for the residual
// collateral conversions leave behind (convertibleRatio < collateralRatio).
func (l *Ledger) WithdrawExcessCollateral(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(amount); err != nil {
		return err
	}
	if caller != l.cfg.Issuer {
		return domain.ErrNotIssuer
	}

	locked, err := fixedpoint.ScaleUp(l.totalSupply, l.cfg.CollateralRatio)
	if err != nil {
		return err
	}
	held, err := l.collateral.Balance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: collateral balance: %w", err)
	}
	if held.Lt(locked) {
		return domain.ErrNotEnoughCollateral
	}
	excess := new(uint256.Int).Sub(held, locked)
	if excess.Lt(amount) {
		return domain.ErrNotEnoughCollateral
	}

	if err := l.collateral.TransferOut(ctx, to, amount); err != nil {
		return fmt.Errorf("ledger: collateral withdraw: %w", err)
	}
	l.emit(ctx, domain.EventCollateralWithdrawn, caller, amount)
	return nil
}

// WithdrawExcessPayment sends payment token beyond the outstanding
// obligation to the recipient. Issuer only; the overpayment recovery path.
func (l *Ledger) WithdrawExcessPayment(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guard(amount); err != nil {
		return err
	}
	if caller != l.cfg.Issuer {
		return domain.ErrNotIssuer
	}

	held, err := l.payment.Balance(ctx)
	if err != nil {
		return fmt.Errorf("ledger: payment balance: %w", err)
	}
	if held.Lt(l.totalSupply) {
		return domain.ErrInsufficientPaymentBalance
	}
	excess := new(uint256.Int).Sub(held, l.totalSupply)
	if excess.Lt(amount) {
		return domain.ErrInsufficientPaymentBalance
	}

	if err := l.payment.TransferOut(ctx, to, amount); err != nil {
		return fmt.Errorf("ledger: payment withdraw: %w", err)
	}
	l.emit(ctx, domain.EventPaymentWithdrawn, caller, amount)
	return nil
}

// --- Query surface ---

// ID returns the bond instance ID.
func (l *Ledger) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Config returns the immutable bond configuration.
func (l *Ledger) Config() domain.BondConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg := l.cfg
	if cfg.CollateralRatio != nil {
		cfg.CollateralRatio = cfg.CollateralRatio.Clone()
		cfg.ConvertibleRatio = cfg.ConvertibleRatio.Clone()
		cfg.MaxSupply = cfg.MaxSupply.Clone()
	}
	return cfg
}

// TotalSupply returns the outstanding share supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply.Clone()
}

// BalanceOf returns a holder's share balance. Unknown holders hold zero.
func (l *Ledger) BalanceOf(holder common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(holder).Clone()
}

// Paid returns the cumulative payment token deposited by Pay calls.
func (l *Ledger) Paid() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paid.Clone()
}

// Redeemed returns the cumulative payment token claimed by Redeem calls.
func (l *Ledger) Redeemed() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redeemed.Clone()
}

// AmountOwed returns the payment token still needed to cover every
// outstanding share one-to-one, given what the ledger currently holds.
func (l *Ledger) AmountOwed(ctx context.Context) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, err := l.payment.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: payment balance: %w", err)
	}
	if held.Cmp(l.totalSupply) >= 0 {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(l.totalSupply, held), nil
}

// Status derives the lifecycle state from the clock and the payment balance.
func (l *Ledger) Status(ctx context.Context) (domain.BondStatus, error) {
	l.mu.Lock()
	matured := !l.now().Before(l.cfg.MaturityDate)
	l.mu.Unlock()

	if !matured {
		return domain.BondActive, nil
	}
	owed, err := l.AmountOwed(ctx)
	if err != nil {
		return "", err
	}
	if owed.IsZero() {
		return domain.BondMatured, nil
	}
	return domain.BondDefaulted, nil
}

// --- internals (callers hold l.mu) ---

func (l *Ledger) guard(amount *uint256.Int) error {
	if !l.initialized {
		return domain.ErrNotInitialized
	}
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}
	return nil
}

func (l *Ledger) balance(holder common.Address) *uint256.Int {
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) credit(holder common.Address, amount *uint256.Int) {
	l.balances[holder] = new(uint256.Int).Add(l.balance(holder), amount)
}

func (l *Ledger) debit(holder common.Address, amount *uint256.Int) {
	l.balances[holder] = new(uint256.Int).Sub(l.balance(holder), amount)
}

func (l *Ledger) emit(ctx context.Context, typ domain.EventType, actor common.Address, amount *uint256.Int) {
	l.logger.InfoContext(ctx, "ledger: state change",
		slog.String("event", string(typ)),
		slog.String("actor", actor.Hex()),
		slog.String("amount", amount.Dec()),
	)
	if l.sink == nil {
		return
	}
	l.sink.Emit(ctx, domain.Event{
		BondID:     l.id,
		Type:       typ,
		Actor:      actor,
		Amount:     amount.Clone(),
		OccurredAt: l.now(),
	})
}
