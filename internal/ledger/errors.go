package ledger

import (
	"fmt"

	"github.com/ksred/coinledger/internal/types"
)

// Sentinels re-exported from types so ledger callers keep a single
// import for the error taxonomy.
var (
	ErrValidation          = types.ErrValidation
	ErrAssetNotFound       = types.ErrAssetNotFound
	ErrAccountNotFound     = types.ErrAccountNotFound
	ErrDuplicateInFlight   = types.ErrDuplicateInFlight
	ErrInsufficientHolding = types.ErrInsufficientHolding
	ErrInsufficientFunds   = types.ErrInsufficientFunds
	ErrLockTimeout         = types.ErrLockTimeout
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
