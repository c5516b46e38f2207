package database

import (
	"fmt"

	"github.com/ksred/coinledger/internal/assets"
	"github.com/ksred/coinledger/internal/idempotency"
	"github.com/ksred/coinledger/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite database at dsn and migrates the
// schema. The returned handle is constructed once at process startup
// and injected into every service; nothing else opens connections.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&types.Account{},
		&types.Holding{},
		&types.Trade{},
		&types.Transfer{},
		&types.CachedBalance{},
		&idempotency.Record{},
		&assets.Asset{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}
