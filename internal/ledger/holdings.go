package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/coinledger/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HoldingsStore mediates all access to holding rows. Credit and Debit
// must only be called while the row lock returned by LockForUpdate is
// held, inside the same transaction.
type HoldingsStore struct {
	locks *LockManager
}

func NewHoldingsStore(locks *LockManager) *HoldingsStore {
	return &HoldingsStore{locks: locks}
}

// LockForUpdate acquires the exclusive row lock for (account, symbol)
// and reads the current quantity. A missing row reads as zero; the row
// is created on first credit. The caller must invoke the returned
// release function after the enclosing transaction commits or rolls
// back.
func (s *HoldingsStore) LockForUpdate(ctx context.Context, tx *gorm.DB, accountID int64, symbol string) (decimal.Decimal, func(), error) {
	release, err := s.locks.Acquire(ctx, HoldingKey(accountID, symbol))
	if err != nil {
		return decimal.Zero, nil, err
	}

	qty, err := s.currentQuantity(tx, accountID, symbol)
	if err != nil {
		release()
		return decimal.Zero, nil, err
	}
	return qty, release, nil
}

// Credit adds amount to the holding, creating the row if absent.
// Returns the new quantity.
func (s *HoldingsStore) Credit(tx *gorm.DB, accountID int64, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	var holding types.Holding
	err := tx.Where("account_id = ? AND symbol = ?", accountID, symbol).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		holding = types.Holding{AccountID: accountID, Symbol: symbol, Quantity: amount}
		if err := tx.Create(&holding).Error; err != nil {
			return decimal.Zero, fmt.Errorf("create holding: %w", err)
		}
		return amount, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read holding: %w", err)
	}

	newQty := holding.Quantity.Add(amount)
	if err := tx.Model(&types.Holding{}).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Update("quantity", newQty).Error; err != nil {
		return decimal.Zero, fmt.Errorf("credit holding: %w", err)
	}
	return newQty, nil
}

// Debit subtracts amount from the holding. The amount may exceed the
// current quantity by at most Epsilon, in which case the quantity is
// clamped to zero; anything beyond that is an insufficient-holding
// rejection with no write. Returns the new quantity.
func (s *HoldingsStore) Debit(tx *gorm.DB, accountID int64, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	current, err := s.currentQuantity(tx, accountID, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if current.Add(Epsilon).LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: have %s, want %s",
			ErrInsufficientHolding, FormatAmount(current), FormatAmount(amount))
	}

	newQty := current.Sub(amount)
	if newQty.IsNegative() {
		newQty = decimal.Zero
	}
	if err := tx.Model(&types.Holding{}).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Update("quantity", newQty).Error; err != nil {
		return decimal.Zero, fmt.Errorf("debit holding: %w", err)
	}
	return newQty, nil
}

func (s *HoldingsStore) currentQuantity(tx *gorm.DB, accountID int64, symbol string) (decimal.Decimal, error) {
	var holding types.Holding
	err := tx.Where("account_id = ? AND symbol = ?", accountID, strings.ToUpper(symbol)).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read holding: %w", err)
	}
	return holding.Quantity, nil
}
