// Package fixedpoint implements the ratio arithmetic every token conversion
// in the bond ledger goes through. Ratios are integers scaled by One; a ratio
// application is a widened multiply followed by a divide, never the reverse,
// so intermediate products larger than 256 bits cannot truncate silently.
package fixedpoint

import (
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
)

// One is the fixed-point unit: ratios carry 18 decimals, matching the
// conventional token scale.
var One = uint256.NewInt(1_000_000_000_000_000_000)

// MulDivDown returns a*b/denom rounded toward zero. The multiply is computed
// at full width; only a final result above 2^256-1 is an overflow.
func MulDivDown(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, domain.ErrOverflow
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, denom)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return res, nil
}

// MulDivUp returns a*b/denom rounded away from zero.
func MulDivUp(a, b, denom *uint256.Int) (*uint256.Int, error) {
	res, err := MulDivDown(a, b, denom)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, denom)
	if rem.IsZero() {
		return res, nil
	}
	sum, carry := new(uint256.Int).AddOverflow(res, uint256.NewInt(1))
	if carry {
		return nil, domain.ErrOverflow
	}
	return sum, nil
}

// ScaleDown applies a fixed-point ratio to an amount, truncating. Use for
// value flowing out of the ledger (collateral returned on conversion), so
// rounding favors the ledger's collateralization.
func ScaleDown(amount, ratio *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(amount, ratio, One)
}

// ScaleUp applies a fixed-point ratio to an amount, rounding up. Use for
// value flowing into the ledger (collateral required at mint).
func ScaleUp(amount, ratio *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(amount, ratio, One)
}
