package idempotency

import (
	"time"

	"gorm.io/gorm"
)

// Record states. A record is created PROCESSING and transitions to
// DONE exactly once; it is immutable thereafter.
const (
	StateProcessing = "PROCESSING"
	StateDone       = "DONE"
)

// Scopes namespace client keys so the same key can be reused across
// unrelated operations without colliding.
const (
	ScopeOrderExecute   = "order.execute"
	ScopeTransferCreate = "transfer.create"
)

type Record struct {
	gorm.Model
	AccountID int64  `gorm:"uniqueIndex:idx_idempotency_account_scope_key" json:"account_id"`
	Scope     string `gorm:"uniqueIndex:idx_idempotency_account_scope_key" json:"scope"`
	ClientKey string `gorm:"uniqueIndex:idx_idempotency_account_scope_key" json:"client_key"`
	State     string `json:"state"`
	Response  []byte `json:"response,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
