package assets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/coinledger/internal/ledger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "assets_test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Asset{}))
	return NewRegistry(db)
}

func TestResolveAssetID(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Seed(map[string]string{"btc": "Bitcoin"}))

	id, err := registry.ResolveAssetID("btc")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// Case-insensitive lookup
	upper, err := registry.ResolveAssetID("BTC")
	require.NoError(t, err)
	assert.Equal(t, id, upper)
}

func TestResolveAssetIDUnknown(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.ResolveAssetID("doge")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAssetNotFound)
}

func TestSymbolByID(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Seed(map[string]string{"eth": "Ethereum"}))

	id, err := registry.ResolveAssetID("eth")
	require.NoError(t, err)

	symbol, err := registry.SymbolByID(id)
	require.NoError(t, err)
	assert.Equal(t, "eth", symbol)

	_, err = registry.SymbolByID(9999)
	assert.ErrorIs(t, err, ledger.ErrAssetNotFound)
}

func TestSeedIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t)

	symbols := map[string]string{"btc": "Bitcoin", "eth": "Ethereum"}
	require.NoError(t, registry.Seed(symbols))
	first, err := registry.ResolveAssetID("btc")
	require.NoError(t, err)

	require.NoError(t, registry.Seed(symbols))
	second, err := registry.ResolveAssetID("btc")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
