package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BondStatus is the lifecycle state of a bond, derived from the clock and
// the payment balance at observation time. It is never stored.
type BondStatus string

const (
	// BondActive means maturity has not been reached; mint, convert, pay
	// and redeem are all available.
	BondActive BondStatus = "active"
	// BondMatured means maturity has passed and the outstanding obligation
	// is fully covered by deposited payment token.
	BondMatured BondStatus = "matured"
	// BondDefaulted means maturity has passed with the obligation not fully
	// covered.
	BondDefaulted BondStatus = "defaulted"
)

// BondConfig is the immutable configuration tuple a bond ledger is
// initialized with. Ratios are fixed-point values scaled by fixedpoint.One:
// CollateralRatio is the collateral required per share at mint,
// ConvertibleRatio the collateral returned per share on conversion.
type BondConfig struct {
	Name             string
	Symbol           string
	Issuer           common.Address
	MaturityDate     time.Time
	PaymentToken     common.Address
	CollateralToken  common.Address
	CollateralRatio  *uint256.Int
	ConvertibleRatio *uint256.Int
	MaxSupply        *uint256.Int
}

// Validate checks the invariants the issuance gate enforces before a ledger
// is created. now is the creation time used for the maturity check.
func (c BondConfig) Validate(now time.Time) error {
	if c.Name == "" || c.Symbol == "" {
		return ErrInvalidConfig
	}
	if c.Issuer == (common.Address{}) {
		return ErrInvalidConfig
	}
	if !c.MaturityDate.After(now) {
		return ErrInvalidConfig
	}
	if c.PaymentToken == c.CollateralToken {
		return ErrInvalidConfig
	}
	if c.CollateralRatio == nil || c.ConvertibleRatio == nil || c.MaxSupply == nil {
		return ErrInvalidConfig
	}
	if c.MaxSupply.IsZero() {
		return ErrInvalidConfig
	}
	// Conversion must never hand out more collateral per share than was
	// posted at mint.
	if c.ConvertibleRatio.Gt(c.CollateralRatio) {
		return ErrInvalidConfig
	}
	return nil
}

// Bond is a registered bond instance: the immutable config plus registry
// metadata assigned by the issuance gate.
type Bond struct {
	ID        string
	Address   common.Address
	Config    BondConfig
	CreatedAt time.Time
}
