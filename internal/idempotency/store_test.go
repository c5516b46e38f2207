package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, processingTTL, doneTTL time.Duration) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "idempotency_test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	return NewStore(db, processingTTL, doneTTL)
}

type storedResponse struct {
	TradeID string `json:"trade_id"`
	Balance string `json:"balance"`
}

func TestBeginClaimsNewKey(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)
	assert.Nil(t, result.Response)
}

func TestBeginConcurrentDuplicateIsInFlight(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateInFlight, result.State)
}

func TestBeginScopesDoNotCollide(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "shared-key", ScopeOrderExecute)
	require.NoError(t, err)

	// Same key in a different scope or for a different account is a
	// fresh claim
	result, err := store.Begin(1, "shared-key", ScopeTransferCreate)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)

	result, err = store.Begin(2, "shared-key", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)
}

func TestEndThenBeginReplays(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)

	original := storedResponse{TradeID: "TRD_abc", Balance: "950000.000000000000000000"}
	require.NoError(t, store.End(1, "client-key-1", ScopeOrderExecute, "order.response", original))

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	require.Equal(t, StateReplayed, result.State)

	var replayed storedResponse
	require.NoError(t, Decode(result.Response, &replayed))
	assert.Equal(t, original, replayed)
}

func TestEndWithoutBeginFails(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	err := store.End(1, "never-begun", ScopeOrderExecute, "order.response", storedResponse{})
	require.Error(t, err)
}

func TestEndTwiceFails(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	require.NoError(t, store.End(1, "client-key-1", ScopeOrderExecute, "order.response", storedResponse{}))

	err = store.End(1, "client-key-1", ScopeOrderExecute, "order.response", storedResponse{})
	require.Error(t, err)
}

func TestAbortReleasesClaim(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	require.NoError(t, store.Abort(1, "client-key-1", ScopeOrderExecute))

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)
}

func TestAbortDoesNotTouchDoneRecord(t *testing.T) {
	store := newTestStore(t, time.Minute, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	original := storedResponse{TradeID: "TRD_abc"}
	require.NoError(t, store.End(1, "client-key-1", ScopeOrderExecute, "order.response", original))

	require.NoError(t, store.Abort(1, "client-key-1", ScopeOrderExecute))

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateReplayed, result.State)
}

func TestAbandonedProcessingRecordIsReclaimed(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond, time.Hour)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)
}

func TestExpiredDoneRecordIsReclaimed(t *testing.T) {
	store := newTestStore(t, time.Minute, 10*time.Millisecond)

	_, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	require.NoError(t, store.End(1, "client-key-1", ScopeOrderExecute, "order.response", storedResponse{}))

	time.Sleep(25 * time.Millisecond)

	result, err := store.Begin(1, "client-key-1", ScopeOrderExecute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, result.State)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	var out storedResponse
	err := Decode([]byte(`{"version":99,"kind":"order.response","data":{}}`), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}
