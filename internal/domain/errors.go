package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyInitialized = errors.New("ledger already initialized")
	ErrNotInitialized     = errors.New("ledger not initialized")
	ErrInvalidConfig      = errors.New("invalid bond config")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrExceedsMaxSupply   = errors.New("mint exceeds max supply")
	ErrBondMatured        = errors.New("bond has matured")

	ErrInsufficientShareBalance   = errors.New("insufficient share balance")
	ErrInsufficientBalance        = errors.New("insufficient token balance")
	ErrInsufficientAllowance      = errors.New("insufficient token allowance")
	ErrInsufficientPaymentBalance = errors.New("insufficient payment balance")
	ErrNotEnoughCollateral        = errors.New("collateral locked by outstanding shares")

	ErrNotIssuer        = errors.New("caller is not the issuer")
	ErrNotOwner         = errors.New("caller is not the owner")
	ErrIssuerNotAllowed = errors.New("issuer not on allow list")

	ErrOverflow = errors.New("arithmetic overflow")
)
