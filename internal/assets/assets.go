package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/coinledger/internal/ledger"
	"gorm.io/gorm"
)

// Asset is a tradeable instrument. Symbols are stored lowercase; the
// holdings store uses the uppercase form of the same symbol.
type Asset struct {
	gorm.Model `json:"-"`
	Symbol     string `gorm:"uniqueIndex" json:"symbol"` // lowercase
	Name       string `json:"name"`
}

// Registry resolves symbols to asset ids against the asset table.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// ResolveAssetID maps a lowercase symbol to its asset id. Unknown
// symbols fail with ledger.ErrAssetNotFound.
func (r *Registry) ResolveAssetID(symbol string) (int64, error) {
	symbol = strings.ToLower(symbol)
	var asset Asset
	if err := r.db.Where("symbol = ?", symbol).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", ledger.ErrAssetNotFound, symbol)
		}
		return 0, err
	}
	return int64(asset.ID), nil
}

// SymbolByID is the reverse lookup, used by transfer settlement and
// portfolio views.
func (r *Registry) SymbolByID(assetID int64) (string, error) {
	var asset Asset
	if err := r.db.First(&asset, assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: id %d", ledger.ErrAssetNotFound, assetID)
		}
		return "", err
	}
	return asset.Symbol, nil
}

// Seed ensures the given symbol→name pairs exist, creating missing
// rows. Safe to run at every startup.
func (r *Registry) Seed(symbols map[string]string) error {
	for symbol, name := range symbols {
		asset := Asset{Symbol: strings.ToLower(symbol), Name: name}
		if err := r.db.FirstOrCreate(&asset, Asset{Symbol: asset.Symbol}).Error; err != nil {
			return fmt.Errorf("seed asset %q: %w", symbol, err)
		}
	}
	return nil
}
