package ledger

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/coinledger/internal/idempotency"
)

func newClaimFixture(t *testing.T) (*Engine, *idempotency.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "claims_test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&idempotency.Record{}))

	store := idempotency.NewStore(db, time.Minute, time.Hour)
	return &Engine{idem: store}, store
}

func TestRejectedExecutionReleasesClaim(t *testing.T) {
	engine, store := newClaimFixture(t)
	params := &execParams{accountID: 1, clientKey: "claim-key-1"}

	_, err := store.Begin(1, "claim-key-1", idempotency.ScopeOrderExecute)
	require.NoError(t, err)

	engine.releaseOnFailure(ErrInsufficientFunds, params, zerolog.Nop())

	result, err := store.Begin(1, "claim-key-1", idempotency.ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateNew, result.State)
}

func TestAmbiguousCommitKeepsClaim(t *testing.T) {
	engine, store := newClaimFixture(t)
	params := &execParams{accountID: 1, clientKey: "claim-key-1"}

	_, err := store.Begin(1, "claim-key-1", idempotency.ScopeOrderExecute)
	require.NoError(t, err)

	// The trade may have committed; a same-key retry must be blocked
	// until the processing TTL resolves the record, never re-executed
	engine.releaseOnFailure(fmt.Errorf("%w: disk I/O error", errAmbiguousCommit), params, zerolog.Nop())

	result, err := store.Begin(1, "claim-key-1", idempotency.ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateInFlight, result.State)
}
