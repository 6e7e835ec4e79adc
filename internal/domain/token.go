package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenAccount is the capability a bond ledger holds over one external
// fungible token. The adapter is bound to the ledger's own address: Balance
// and TransferOut act on the ledger's holdings, TransferIn pulls value from
// a holder through the allowance the holder granted the ledger.
//
// A failed transfer must leave the underlying token unchanged so the caller
// can roll back uniformly.
type TokenAccount interface {
	// Balance returns the ledger's own token balance.
	Balance(ctx context.Context) (*uint256.Int, error)

	// BalanceOf returns an arbitrary holder's token balance.
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)

	// Allowance returns how much the owner has approved the ledger to pull.
	Allowance(ctx context.Context, owner common.Address) (*uint256.Int, error)

	// TransferIn pulls amount from the owner into the ledger via allowance.
	// Fails with ErrInsufficientAllowance or ErrInsufficientBalance.
	TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error

	// TransferOut pushes amount from the ledger to the recipient. Fails with
	// ErrInsufficientBalance if the ledger itself lacks funds, which signals
	// an invariant breach upstream.
	TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error
}
