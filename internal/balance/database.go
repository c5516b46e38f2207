package balance

import (
	"fmt"

	"github.com/ksred/coinledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Pair identifies one (account, asset) balance to reconcile.
type Pair struct {
	AccountID int64
	AssetID   int64
}

// ListPairs returns every (account, asset) pair that appears in the
// trade history, the settled transfer history, or the cached
// projection. Pairs present only in the cache still need a pass so a
// corrupted cache entry with no history gets repaired to zero. Pairs
// held only in a non-durable store tier are invisible here; the
// reconciler adds those through PairLister.
func (d *Database) ListPairs() ([]Pair, error) {
	var pairs []Pair
	err := d.db.Raw(`
		SELECT account_id, asset_id FROM trades
		UNION
		SELECT account_id, asset_id FROM transfers WHERE status = ?
		UNION
		SELECT account_id, asset_id FROM cached_balances`,
		types.TransferSuccess).Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list reconciliation pairs: %w", err)
	}
	return pairs, nil
}

// SumTrades replays the trade history for one pair: +quantity for BUY,
// −quantity for SELL, summed with exact decimal addition.
func (d *Database) SumTrades(accountID, assetID int64) (decimal.Decimal, error) {
	var trades []types.Trade
	if err := d.db.Where("account_id = ? AND asset_id = ?", accountID, assetID).
		Find(&trades).Error; err != nil {
		return decimal.Zero, fmt.Errorf("load trades: %w", err)
	}

	sum := decimal.Zero
	for _, trade := range trades {
		if trade.Side == types.SideBuy {
			sum = sum.Add(trade.Quantity)
		} else {
			sum = sum.Sub(trade.Quantity)
		}
	}
	return sum, nil
}

// SumTransfers replays the settled transfer history for one pair:
// +amount for DEPOSIT, −amount for WITHDRAWAL. Pending transfers do
// not count.
func (d *Database) SumTransfers(accountID, assetID int64) (decimal.Decimal, error) {
	var transfers []types.Transfer
	if err := d.db.Where("account_id = ? AND asset_id = ? AND status = ?",
		accountID, assetID, types.TransferSuccess).
		Find(&transfers).Error; err != nil {
		return decimal.Zero, fmt.Errorf("load transfers: %w", err)
	}

	sum := decimal.Zero
	for _, transfer := range transfers {
		if transfer.Type == types.TransferDeposit {
			sum = sum.Add(transfer.Amount)
		} else {
			sum = sum.Sub(transfer.Amount)
		}
	}
	return sum, nil
}
