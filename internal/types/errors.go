package types

import "errors"

// Error taxonomy for ledger operations. Services wrap these with
// context via fmt.Errorf("%w: ...") and handlers map them onto
// transport status codes; everything else is treated as a transient
// storage failure that rolled the transaction back.
var (
	ErrValidation          = errors.New("validation failed")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrDuplicateInFlight   = errors.New("duplicate request still processing")
	ErrInsufficientHolding = errors.New("insufficient holding")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLockTimeout         = errors.New("timed out waiting for holding lock")
)
