// Package factory is the issuance gate: it decides who may create bond
// ledgers, validates the configuration tuple, and runs each new ledger's
// one-time initialization. Individual ledgers never see roles; the gate is
// the only place permissioning lives.
package factory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/ledger"
)

// AccountOpener supplies the token capability adapter a new ledger uses for
// one token, bound to the ledger's own address. Local mode backs this with
// the in-process token registry, chain mode with ERC-20 adapters.
type AccountOpener interface {
	Open(token common.Address, holder common.Address) (domain.TokenAccount, error)
}

// Config holds the gate's own settings.
type Config struct {
	// Owner may edit the allow list and toggle enforcement.
	Owner common.Address
	// AllowList seeds the issuers permitted when enforcement is on.
	AllowList []common.Address
	// AllowListEnabled turns issuer gating on. Off means permissionless
	// issuance.
	AllowListEnabled bool
}

// Factory creates and tracks bond ledgers.
type Factory struct {
	mu sync.Mutex

	owner            common.Address
	allowList        map[common.Address]bool
	allowListEnabled bool

	opener  AccountOpener
	ledgers map[string]*ledger.Ledger
	bonds   map[string]domain.Bond

	now        func() time.Time
	ledgerOpts []ledger.Option
	logger     *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the time source used for maturity validation and for
// the ledgers this factory creates.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithLedgerOptions passes extra options (event sink, logger) to every
// ledger the factory creates.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(f *Factory) { f.ledgerOpts = opts }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// New creates a Factory.
func New(cfg Config, opener AccountOpener, opts ...Option) *Factory {
	f := &Factory{
		owner:            cfg.Owner,
		allowList:        make(map[common.Address]bool, len(cfg.AllowList)),
		allowListEnabled: cfg.AllowListEnabled,
		opener:           opener,
		ledgers:          make(map[string]*ledger.Ledger),
		bonds:            make(map[string]domain.Bond),
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, a := range cfg.AllowList {
		f.allowList[a] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates cfg, allocates a fresh ledger at a derived address, arms
// it with its token capabilities, and registers it. The issuer must match
// cfg.Issuer and, when enforcement is on, be on the allow list.
func (f *Factory) Create(issuer common.Address, cfg domain.BondConfig) (domain.Bond, *ledger.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.allowListEnabled && !f.allowList[issuer] {
		return domain.Bond{}, nil, domain.ErrIssuerNotAllowed
	}
	if issuer != cfg.Issuer {
		return domain.Bond{}, nil, domain.ErrNotIssuer
	}
	now := f.now()
	if err := cfg.Validate(now); err != nil {
		return domain.Bond{}, nil, err
	}

	id := uuid.NewString()
	addr := bondAddress(id)

	collateral, err := f.opener.Open(cfg.CollateralToken, addr)
	if err != nil {
		return domain.Bond{}, nil, err
	}
	payment, err := f.opener.Open(cfg.PaymentToken, addr)
	if err != nil {
		return domain.Bond{}, nil, err
	}

	opts := append([]ledger.Option{ledger.WithClock(f.now), ledger.WithLogger(f.logger)}, f.ledgerOpts...)
	led := ledger.New(opts...)
	if err := led.Initialize(id, cfg, collateral, payment); err != nil {
		return domain.Bond{}, nil, err
	}

	bond := domain.Bond{
		ID:        id,
		Address:   addr,
		Config:    cfg,
		CreatedAt: now,
	}
	f.bonds[id] = bond
	f.ledgers[id] = led

	f.logger.Info("factory: bond created",
		slog.String("bond", id),
		slog.String("issuer", issuer.Hex()),
		slog.String("symbol", cfg.Symbol),
		slog.Time("maturity", cfg.MaturityDate),
	)
	return bond, led, nil
}

// Ledger returns the live ledger for a bond ID.
func (f *Factory) Ledger(id string) (*ledger.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	led, ok := f.ledgers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return led, nil
}

// Bond returns the registry entry for a bond ID.
func (f *Factory) Bond(id string) (domain.Bond, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bond, ok := f.bonds[id]
	if !ok {
		return domain.Bond{}, domain.ErrNotFound
	}
	return bond, nil
}

// Bonds returns all registry entries.
func (f *Factory) Bonds() []domain.Bond {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Bond, 0, len(f.bonds))
	for _, b := range f.bonds {
		out = append(out, b)
	}
	return out
}

// SetAllowListEnabled toggles issuer gating. Owner only.
func (f *Factory) SetAllowListEnabled(caller common.Address, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.owner {
		return domain.ErrNotOwner
	}
	f.allowListEnabled = enabled
	return nil
}

// Allow adds an issuer to the allow list. Owner only.
func (f *Factory) Allow(caller, issuer common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.owner {
		return domain.ErrNotOwner
	}
	f.allowList[issuer] = true
	return nil
}

// Disallow removes an issuer from the allow list. Owner only.
func (f *Factory) Disallow(caller, issuer common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.owner {
		return domain.ErrNotOwner
	}
	delete(f.allowList, issuer)
	return nil
}

// bondAddress derives a stable pseudo-address for a bond instance so token
// books and ERC-20 holdings have a concrete holder identity.
func bondAddress(id string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("bondd/ledger/" + id))[12:])
}
