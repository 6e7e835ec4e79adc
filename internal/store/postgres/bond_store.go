package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertfi/bondd/internal/domain"
)

// BondStore implements domain.BondStore using PostgreSQL.
type BondStore struct {
	pool *pgxpool.Pool
}

// NewBondStore creates a new BondStore.
func NewBondStore(pool *pgxpool.Pool) *BondStore {
	return &BondStore{pool: pool}
}

const bondColumns = `id, address, name, symbol, issuer, maturity_date, payment_token, collateral_token, collateral_ratio, convertible_ratio, max_supply, created_at`

// Create inserts a new bond registry row.
func (s *BondStore) Create(ctx context.Context, bond domain.Bond) error {
	const query = `
		INSERT INTO bonds (` + bondColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	cfg := bond.Config
	_, err := s.pool.Exec(ctx, query,
		bond.ID, bond.Address.Hex(), cfg.Name, cfg.Symbol, cfg.Issuer.Hex(),
		cfg.MaturityDate, cfg.PaymentToken.Hex(), cfg.CollateralToken.Hex(),
		cfg.CollateralRatio.Dec(), cfg.ConvertibleRatio.Dec(), cfg.MaxSupply.Dec(),
		bond.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bond %s: %w", bond.ID, err)
	}
	return nil
}

// GetByID returns a bond by id.
func (s *BondStore) GetByID(ctx context.Context, id string) (domain.Bond, error) {
	const query = `SELECT ` + bondColumns + ` FROM bonds WHERE id = $1`
	bond, err := scanBond(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bond{}, domain.ErrNotFound
		}
		return domain.Bond{}, fmt.Errorf("postgres: get bond %s: %w", id, err)
	}
	return bond, nil
}

// List returns registered bonds ordered by creation time.
func (s *BondStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Bond, error) {
	const query = `
		SELECT ` + bondColumns + ` FROM bonds
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bonds: %w", err)
	}
	defer rows.Close()

	var list []domain.Bond
	for rows.Next() {
		bond, err := scanBond(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bond: %w", err)
		}
		list = append(list, bond)
	}
	return list, rows.Err()
}

// Count returns the number of registered bonds.
func (s *BondStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bonds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count bonds: %w", err)
	}
	return n, nil
}

func scanBond(row pgx.Row) (domain.Bond, error) {
	var (
		bond                             domain.Bond
		address, issuer, payTok, collTok string
		collRatio, convRatio, maxSupply  string
	)
	err := row.Scan(
		&bond.ID, &address, &bond.Config.Name, &bond.Config.Symbol, &issuer,
		&bond.Config.MaturityDate, &payTok, &collTok,
		&collRatio, &convRatio, &maxSupply, &bond.CreatedAt,
	)
	if err != nil {
		return domain.Bond{}, err
	}
	bond.Address = common.HexToAddress(address)
	bond.Config.Issuer = common.HexToAddress(issuer)
	bond.Config.PaymentToken = common.HexToAddress(payTok)
	bond.Config.CollateralToken = common.HexToAddress(collTok)
	if bond.Config.CollateralRatio, err = uint256.FromDecimal(collRatio); err != nil {
		return domain.Bond{}, err
	}
	if bond.Config.ConvertibleRatio, err = uint256.FromDecimal(convRatio); err != nil {
		return domain.Bond{}, err
	}
	if bond.Config.MaxSupply, err = uint256.FromDecimal(maxSupply); err != nil {
		return domain.Bond{}, err
	}
	return bond, nil
}

// Compile-time interface check.
var _ domain.BondStore = (*BondStore)(nil)
