package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/coinledger/internal/ledger"
	"github.com/ksred/coinledger/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("transfer not found")
	ErrNotPending = errors.New("transfer is not pending")
)

// AssetDirectory resolves symbols both ways.
type AssetDirectory interface {
	ResolveAssetID(symbol string) (int64, error)
	SymbolByID(assetID int64) (string, error)
}

// Service manages the deposit/withdrawal lifecycle. Settlement mutates
// the same ledger rows as order execution and therefore shares the
// engine's lock manager and lock ordering (account before holding).
type Service struct {
	db           *Database
	ledgerDB     *ledger.Database
	holdings     *ledger.HoldingsStore
	locks        *ledger.LockManager
	assets       AssetDirectory
	balances     ledger.BalanceWriter
	baseCurrency string
	lockWait     time.Duration
}

func NewService(
	gormDB *gorm.DB,
	locks *ledger.LockManager,
	assets AssetDirectory,
	balances ledger.BalanceWriter,
	baseCurrency string,
	lockWait time.Duration,
) *Service {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Service{
		db:           NewDatabase(gormDB),
		ledgerDB:     ledger.NewDatabase(gormDB),
		holdings:     ledger.NewHoldingsStore(locks),
		locks:        locks,
		assets:       assets,
		balances:     balances,
		baseCurrency: strings.ToUpper(baseCurrency),
		lockWait:     lockWait,
	}
}

// Create records a PENDING transfer. Nothing moves until settlement.
func (s *Service) Create(req *types.TransferRequest) (*types.Transfer, error) {
	if req.AccountID <= 0 {
		return nil, fmt.Errorf("%w: account_id must be positive", ledger.ErrValidation)
	}
	transferType := strings.ToUpper(req.Type)
	if transferType != types.TransferDeposit && transferType != types.TransferWithdrawal {
		return nil, fmt.Errorf("%w: type must be DEPOSIT or WITHDRAWAL", ledger.ErrValidation)
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ledger.ErrValidation)
	}
	assetID, err := s.assets.ResolveAssetID(strings.ToLower(strings.TrimSpace(req.Symbol)))
	if err != nil {
		return nil, err
	}

	transfer := &types.Transfer{
		TransferID:  "TRF_" + uuid.New().String(),
		AccountID:   req.AccountID,
		AssetID:     assetID,
		Type:        transferType,
		Status:      types.TransferPending,
		Amount:      amount,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.db.CreateTransfer(transfer); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	log.Info().
		Str("transfer_id", transfer.TransferID).
		Int64("account_id", transfer.AccountID).
		Str("type", transfer.Type).
		Str("amount", ledger.FormatAmount(amount)).
		Str("service", "transfer").
		Msg("transfer created")
	return transfer, nil
}

// Settle transitions a PENDING transfer to SUCCESS and applies its
// effect: base-currency transfers move cash, asset transfers move the
// holding under the row lock. A withdrawal that would overdraw is
// rejected and the transfer stays PENDING. SUCCESS is terminal.
func (s *Service) Settle(ctx context.Context, transferID string) (*types.Transfer, error) {
	transfer, err := s.db.GetTransfer(transferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	if transfer.Status != types.TransferPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, transferID, transfer.Status)
	}

	symbol, err := s.assets.SymbolByID(transfer.AssetID)
	if err != nil {
		return nil, err
	}
	symbolUpper := strings.ToUpper(symbol)
	isBase := symbolUpper == s.baseCurrency

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	releaseAccount, err := s.locks.Acquire(lockCtx, ledger.AccountKey(transfer.AccountID))
	if err != nil {
		return nil, err
	}
	defer releaseAccount()

	tx, err := s.ledgerDB.Begin()
	if err != nil {
		return nil, err
	}

	var newQty decimal.Decimal
	if isBase {
		delta := transfer.Amount
		if transfer.Type == types.TransferWithdrawal {
			delta = delta.Neg()
		}
		if _, err := s.ledgerDB.AdjustCashBalance(tx, transfer.AccountID, delta); err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		currentQty, releaseHolding, err := s.holdings.LockForUpdate(lockCtx, tx, transfer.AccountID, symbolUpper)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		defer releaseHolding()

		if transfer.Type == types.TransferDeposit {
			newQty, err = s.holdings.Credit(tx, transfer.AccountID, symbolUpper, transfer.Amount)
		} else {
			if currentQty.LessThan(transfer.Amount) {
				tx.Rollback()
				return nil, fmt.Errorf("%w: have %s, want %s", ledger.ErrInsufficientHolding,
					ledger.FormatAmount(currentQty), ledger.FormatAmount(transfer.Amount))
			}
			newQty, err = s.holdings.Debit(tx, transfer.AccountID, symbolUpper, transfer.Amount)
		}
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	processedAt := time.Now().UTC()
	if err := s.db.MarkSettled(tx, transfer.TransferID, processedAt); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	transfer.Status = types.TransferSuccess
	transfer.ProcessedAt = &processedAt

	// Best-effort projection update for asset transfers. Base-currency
	// pairs are left to the reconciliation job, which derives them from
	// the settled transfer history.
	if !isBase {
		if err := s.balances.Set(transfer.AccountID, transfer.AssetID, ledger.FormatAmount(newQty)); err != nil {
			log.Warn().Err(err).
				Str("transfer_id", transfer.TransferID).
				Msg("cached balance update failed")
		}
	}

	log.Info().
		Str("transfer_id", transfer.TransferID).
		Int64("account_id", transfer.AccountID).
		Str("type", transfer.Type).
		Str("service", "transfer").
		Msg("transfer settled")
	return transfer, nil
}

// Get retrieves a transfer by id.
func (s *Service) Get(transferID string) (*types.Transfer, error) {
	return s.db.GetTransfer(transferID)
}

// ListForAccount retrieves an account's transfers, newest first.
func (s *Service) ListForAccount(accountID int64) ([]types.Transfer, error) {
	return s.db.GetAccountTransfers(accountID)
}
