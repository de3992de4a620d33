package asset

import "errors"

// Sentinel errors for transfer preconditions. Callers use errors.Is to
// distinguish external-asset failures (non-fatal, isolated per operation)
// from internal invariant violations.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("not the unit owner")
	ErrNotApproved           = errors.New("transfer not approved")
	ErrUnknownAsset          = errors.New("unknown asset contract")
	ErrUnknownUnit           = errors.New("unknown unit id")
	ErrUnitExists            = errors.New("unit id already minted")
)
