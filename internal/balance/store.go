package balance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ksred/coinledger/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes the cached balance projection. Values are
// canonical decimal strings. The projection is advisory: readers fall
// back to the holdings store when precision matters, and writers never
// treat a write failure as an execution failure.
type Store interface {
	Get(accountID, assetID int64) (string, bool, error)
	Set(accountID, assetID int64, value string) error
}

// PairLister is implemented by store tiers that can enumerate the
// pairs they hold. The reconciler uses it to reach entries that exist
// only in a non-durable tier and therefore never appear in the
// history-driven pair scan.
type PairLister interface {
	Pairs() []Pair
}

// DBStore is the durable projection table. It does not implement
// PairLister: its rows are already enumerated by the pair scan.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(accountID, assetID int64) (string, bool, error) {
	var cached types.CachedBalance
	err := s.db.Where("account_id = ? AND asset_id = ?", accountID, assetID).First(&cached).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cached balance: %w", err)
	}
	return cached.Balance, true, nil
}

func (s *DBStore) Set(accountID, assetID int64, value string) error {
	cached := types.CachedBalance{
		AccountID: accountID,
		AssetID:   assetID,
		Balance:   value,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(&cached).Error
	if err != nil {
		return fmt.Errorf("write cached balance: %w", err)
	}
	return nil
}

// MemoryStore is the per-process fallback tier. It does not replicate
// across instances and is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[pairKey]string
}

type pairKey struct {
	accountID int64
	assetID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[pairKey]string)}
}

func (s *MemoryStore) Get(accountID, assetID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[pairKey{accountID, assetID}]
	return value, ok, nil
}

func (s *MemoryStore) Set(accountID, assetID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[pairKey{accountID, assetID}] = value
	return nil
}

func (s *MemoryStore) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]Pair, 0, len(s.values))
	for key := range s.values {
		pairs = append(pairs, Pair{AccountID: key.accountID, AssetID: key.assetID})
	}
	return pairs
}

// TieredStore prefers the durable tier and degrades to the in-memory
// tier when it errors. This is an accepted weak-consistency mode: the
// fallback is per-process, so instances may disagree until the durable
// tier recovers and reconciliation rewrites it.
type TieredStore struct {
	primary  Store
	fallback Store
}

func NewTieredStore(primary, fallback Store) *TieredStore {
	return &TieredStore{primary: primary, fallback: fallback}
}

func (s *TieredStore) Get(accountID, assetID int64) (string, bool, error) {
	value, found, err := s.primary.Get(accountID, assetID)
	if err == nil {
		return value, found, nil
	}
	log.Warn().Err(err).
		Int64("account_id", accountID).
		Int64("asset_id", assetID).
		Msg("primary balance store read failed, using fallback")
	return s.fallback.Get(accountID, assetID)
}

func (s *TieredStore) Set(accountID, assetID int64, value string) error {
	if err := s.primary.Set(accountID, assetID, value); err != nil {
		log.Warn().Err(err).
			Int64("account_id", accountID).
			Int64("asset_id", assetID).
			Msg("primary balance store write failed, using fallback")
		return s.fallback.Set(accountID, assetID, value)
	}
	return nil
}

// Pairs surfaces pairs held by any tier that can enumerate itself, so
// entries written during a primary outage still get reconciled.
func (s *TieredStore) Pairs() []Pair {
	var pairs []Pair
	if lister, ok := s.primary.(PairLister); ok {
		pairs = append(pairs, lister.Pairs()...)
	}
	if lister, ok := s.fallback.(PairLister); ok {
		pairs = append(pairs, lister.Pairs()...)
	}
	return pairs
}
