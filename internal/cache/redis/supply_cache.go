package redis

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/convertfi/bondd/internal/domain"
)

// SupplyCache implements domain.SupplyCache using Redis hashes. Each bond's
// supply figures live in a hash at "bond:{id}" with fields "supply" and
// "paid"; holder balances live at "bond:{id}:balances" keyed by address.
// Amounts are stored as decimal strings since they exceed 64 bits.
type SupplyCache struct {
	rdb *redis.Client
}

// NewSupplyCache creates a SupplyCache backed by the given Client.
func NewSupplyCache(c *Client) *SupplyCache {
	return &SupplyCache{rdb: c.Underlying()}
}

func supplyKey(bondID string) string   { return "bond:" + bondID }
func balancesKey(bondID string) string { return "bond:" + bondID + ":balances" }

// SetSupply stores the bond's current supply and cumulative paid amount.
func (sc *SupplyCache) SetSupply(ctx context.Context, bondID string, supply, paid *uint256.Int) error {
	fields := map[string]interface{}{
		"supply": supply.Dec(),
		"paid":   paid.Dec(),
	}
	if err := sc.rdb.HSet(ctx, supplyKey(bondID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set supply %s: %w", bondID, err)
	}
	return nil
}

// GetSupply retrieves the bond's supply figures. It returns
// domain.ErrNotFound when the bond has never been cached.
func (sc *SupplyCache) GetSupply(ctx context.Context, bondID string) (*uint256.Int, *uint256.Int, error) {
	vals, err := sc.rdb.HGetAll(ctx, supplyKey(bondID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: get supply %s: %w", bondID, err)
	}
	if len(vals) == 0 {
		return nil, nil, domain.ErrNotFound
	}

	supply, err := decField(vals, "supply")
	if err != nil {
		return nil, nil, fmt.Errorf("redis: parse supply %s: %w", bondID, err)
	}
	paid, err := decField(vals, "paid")
	if err != nil {
		return nil, nil, fmt.Errorf("redis: parse paid %s: %w", bondID, err)
	}
	return supply, paid, nil
}

// SetBalance stores one holder's share balance.
func (sc *SupplyCache) SetBalance(ctx context.Context, bondID string, holder common.Address, balance *uint256.Int) error {
	if err := sc.rdb.HSet(ctx, balancesKey(bondID), holder.Hex(), balance.Dec()).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s/%s: %w", bondID, holder.Hex(), err)
	}
	return nil
}

// GetBalance retrieves one holder's share balance. It returns
// domain.ErrNotFound when the holder has never been cached.
func (sc *SupplyCache) GetBalance(ctx context.Context, bondID string, holder common.Address) (*uint256.Int, error) {
	val, err := sc.rdb.HGet(ctx, balancesKey(bondID), holder.Hex()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get balance %s/%s: %w", bondID, holder.Hex(), err)
	}
	bal, err := uint256.FromDecimal(val)
	if err != nil {
		return nil, fmt.Errorf("redis: parse balance %s/%s: %w", bondID, holder.Hex(), err)
	}
	return bal, nil
}

func decField(vals map[string]string, field string) (*uint256.Int, error) {
	raw, ok := vals[field]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return uint256.FromDecimal(raw)
}

// Compile-time interface check.
var _ domain.SupplyCache = (*SupplyCache)(nil)
