package ledger

import (
	"errors"
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

// Begin opens a transaction. The caller owns commit/rollback.
func (d *Database) Begin() (*gorm.DB, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

func (d *Database) GetAccount(accountID int64) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) CreateAccount(account *types.Account) error {
	return d.db.Create(account).Error
}

// AdjustCashBalance applies a signed delta to the account's cash
// balance inside tx and returns the new balance. The caller must hold
// the account lock; the new balance is recomputed with exact decimal
// arithmetic rather than SQL arithmetic, which would route the value
// through floating point on sqlite. A delta that would drive the
// balance negative is rejected with no write.
func (d *Database) AdjustCashBalance(tx *gorm.DB, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var account types.Account
	if err := tx.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
		}
		return decimal.Zero, err
	}

	newBalance := account.CashBalance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: balance %s, delta %s",
			ErrInsufficientFunds, FormatAmount(account.CashBalance), delta.String())
	}

	if err := tx.Model(&types.Account{}).
		Where("account_id = ?", accountID).
		Update("cash_balance", newBalance).Error; err != nil {
		return decimal.Zero, fmt.Errorf("update cash balance: %w", err)
	}
	return newBalance, nil
}

func (d *Database) CreateTrade(tx *gorm.DB, trade *types.Trade) error {
	return tx.Create(trade).Error
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetAccountTrades(accountID int64) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("account_id = ?", accountID).
		Order("executed_at DESC").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}
