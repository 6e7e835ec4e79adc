package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/factory"
	"github.com/convertfi/bondd/internal/fixedpoint"
	"github.com/convertfi/bondd/internal/token"
)

// --- in-memory fakes for the persistence backends ---

type memBondStore struct {
	mu    sync.Mutex
	bonds map[string]domain.Bond
}

func newMemBondStore() *memBondStore {
	return &memBondStore{bonds: make(map[string]domain.Bond)}
}

func (m *memBondStore) Create(_ context.Context, bond domain.Bond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bonds[bond.ID] = bond
	return nil
}

func (m *memBondStore) GetByID(_ context.Context, id string) (domain.Bond, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bond, ok := m.bonds[id]
	if !ok {
		return domain.Bond{}, domain.ErrNotFound
	}
	return bond, nil
}

func (m *memBondStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Bond, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Bond, 0, len(m.bonds))
	for _, b := range m.bonds {
		out = append(out, b)
	}
	return out, nil
}

func (m *memBondStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.bonds)), nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEventStore) Append(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventStore) ListByBond(_ context.Context, bondID string, _ domain.ListOpts) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.BondID == bondID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventStore) CountByBond(_ context.Context, bondID string) (int64, error) {
	evs, _ := m.ListByBond(context.Background(), bondID, domain.ListOpts{})
	return int64(len(evs)), nil
}

func (m *memEventStore) wait(bondID string, n int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c, _ := m.CountByBond(context.Background(), bondID); c >= int64(n) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// --- fixture ---

var (
	svcOwner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svcIssuer = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	svcHolder = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	collAddr  = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	payAddr   = common.HexToAddress("0x0000000000000000000000000000000000000c02")
)

type svcFixture struct {
	svc     *BondService
	coll    *token.Book
	pay     *token.Book
	bonds   *memBondStore
	journal *memEventStore
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()

	reg := token.NewRegistry()
	coll := token.NewBook("COLL")
	pay := token.NewBook("PAY")
	reg.Register(collAddr, coll)
	reg.Register(payAddr, pay)

	bonds := newMemBondStore()
	journal := &memEventStore{}

	svc := NewBondService(
		factory.Config{Owner: svcOwner},
		reg,
		Deps{Bonds: bonds, Events: journal},
	)
	return &svcFixture{svc: svc, coll: coll, pay: pay, bonds: bonds, journal: journal}
}

func bondConfig() domain.BondConfig {
	return domain.BondConfig{
		Name:             "Test Bond 2027",
		Symbol:           "TB27",
		Issuer:           svcIssuer,
		MaturityDate:     time.Now().Add(365 * 24 * time.Hour),
		PaymentToken:     payAddr,
		CollateralToken:  collAddr,
		CollateralRatio:  fixedpoint.One.Clone(),
		ConvertibleRatio: fixedpoint.One.Clone(),
		MaxSupply:        uint256.NewInt(1_000_000),
	}
}

func TestCreateBondPersistsRegistryRow(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	bond, err := f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	require.NoError(t, err)
	require.NotEmpty(t, bond.ID)

	stored, err := f.bonds.GetByID(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, bond.Address, stored.Address)
	assert.Equal(t, "TB27", stored.Config.Symbol)

	got, err := f.svc.GetBond(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, bond.ID, got.ID)
}

func TestMintJournalsEvent(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	bond, err := f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	require.NoError(t, err)

	shares := uint256.NewInt(100)
	f.coll.Mint(svcHolder, uint256.NewInt(1000))
	f.coll.Approve(svcHolder, bond.Address, uint256.NewInt(1000))

	require.NoError(t, f.svc.Mint(ctx, bond.ID, svcHolder, shares))

	require.True(t, f.journal.wait(bond.ID, 1, time.Second), "journal entry not written")
	evs, err := f.svc.Events(ctx, bond.ID, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventMinted, evs[0].Type)
	assert.Equal(t, svcHolder, evs[0].Actor)
	assert.True(t, evs[0].Amount.Eq(shares))
}

func TestOperationAgainstUnknownBond(t *testing.T) {
	f := newSvcFixture(t)
	err := f.svc.Mint(context.Background(), "missing", svcHolder, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFullLifecycleThroughService(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	bond, err := f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	require.NoError(t, err)

	f.coll.Mint(svcHolder, uint256.NewInt(500))
	f.coll.Approve(svcHolder, bond.Address, uint256.NewInt(500))
	require.NoError(t, f.svc.Mint(ctx, bond.ID, svcHolder, uint256.NewInt(100)))

	// Issuer funds redemption.
	f.pay.Mint(svcIssuer, uint256.NewInt(100))
	f.pay.Approve(svcIssuer, bond.Address, uint256.NewInt(100))
	require.NoError(t, f.svc.Pay(ctx, bond.ID, svcIssuer, uint256.NewInt(100)))

	require.NoError(t, f.svc.Redeem(ctx, bond.ID, svcHolder, uint256.NewInt(100)))

	supply, paid, err := f.svc.Supply(ctx, bond.ID)
	require.NoError(t, err)
	assert.True(t, supply.IsZero())
	assert.True(t, paid.Eq(uint256.NewInt(100)))
	assert.True(t, f.pay.BalanceOf(svcHolder).Eq(uint256.NewInt(100)))

	owed, err := f.svc.AmountOwed(ctx, bond.ID)
	require.NoError(t, err)
	assert.True(t, owed.IsZero())

	require.True(t, f.journal.wait(bond.ID, 3, time.Second))
}

func TestAllowListAdministration(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetAllowListEnabled(svcOwner, true))

	_, err := f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	assert.ErrorIs(t, err, domain.ErrIssuerNotAllowed)

	assert.ErrorIs(t, f.svc.Allow(svcIssuer, svcIssuer), domain.ErrNotOwner)

	require.NoError(t, f.svc.Allow(svcOwner, svcIssuer))
	_, err = f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	assert.NoError(t, err)
}

func TestListBondsFromStore(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	require.NoError(t, err)
	_, err = f.svc.CreateBond(ctx, svcIssuer, bondConfig())
	require.NoError(t, err)

	list, err := f.svc.ListBonds(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
