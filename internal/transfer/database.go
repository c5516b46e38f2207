package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/coinledger/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTransfer(transfer *types.Transfer) error {
	return d.db.Create(transfer).Error
}

func (d *Database) GetTransfer(transferID string) (*types.Transfer, error) {
	var transfer types.Transfer
	if err := d.db.Where("transfer_id = ?", transferID).First(&transfer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transfer, nil
}

func (d *Database) GetAccountTransfers(accountID int64) ([]types.Transfer, error) {
	var transfers []types.Transfer
	if err := d.db.Where("account_id = ?", accountID).
		Order("requested_at DESC").Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

// MarkSettled transitions a transfer PENDING→SUCCESS inside tx. The
// guard on the current status keeps settlement exactly-once: a second
// settle attempt affects zero rows.
func (d *Database) MarkSettled(tx *gorm.DB, transferID string, processedAt time.Time) error {
	result := tx.Model(&types.Transfer{}).
		Where("transfer_id = ? AND status = ?", transferID, types.TransferPending).
		Updates(map[string]interface{}{
			"status":       types.TransferSuccess,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("settle transfer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New("transfer is not pending")
	}
	return nil
}
