package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/coinledger/internal/idempotency"
	"github.com/ksred/coinledger/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MinIdempotencyKeyLength is the shortest client key accepted for an
// order. Shorter keys are too likely to collide across callers.
const MinIdempotencyKeyLength = 8

// errAmbiguousCommit marks a commit whose outcome is unknown: the
// transaction may or may not be durable. The idempotency claim must
// stay PROCESSING in that case so a same-key retry cannot execute a
// second trade; only the processing TTL unblocks the key.
var errAmbiguousCommit = errors.New("order commit outcome unknown")

// AssetResolver maps a lowercase symbol to an asset id.
type AssetResolver interface {
	ResolveAssetID(symbol string) (int64, error)
}

// BalanceWriter receives best-effort cached-balance updates. Write
// failures are the writer's problem; the engine never fails a trade
// over them.
type BalanceWriter interface {
	Set(accountID, assetID int64, value string) error
}

// Engine executes orders with exactly-once semantics: idempotency
// claim, row lock, atomic holding + cash mutation, immutable trade
// record, stored response replayed on duplicates.
type Engine struct {
	db           *Database
	holdings     *HoldingsStore
	locks        *LockManager
	idem         *idempotency.Store
	assets       AssetResolver
	balances     BalanceWriter
	baseCurrency string
	lockWait     time.Duration
}

// NewEngine wires an engine against an explicitly constructed storage
// handle. The lock manager is shared with transfer settlement so both
// serialize on the same account and holding keys.
func NewEngine(
	gormDB *gorm.DB,
	locks *LockManager,
	idem *idempotency.Store,
	assets AssetResolver,
	balances BalanceWriter,
	baseCurrency string,
	lockWait time.Duration,
) *Engine {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Engine{
		db:           NewDatabase(gormDB),
		holdings:     NewHoldingsStore(locks),
		locks:        locks,
		idem:         idem,
		assets:       assets,
		balances:     balances,
		baseCurrency: strings.ToUpper(baseCurrency),
		lockWait:     lockWait,
	}
}

// DB exposes the ledger database wrapper for read-side collaborators.
func (e *Engine) DB() *Database {
	return e.db
}

type execParams struct {
	accountID   int64
	symbolUpper string
	symbolLower string
	side        string
	orderKind   string
	quantity    decimal.Decimal
	price       decimal.Decimal
	fee         decimal.Decimal
	feeCurrency string
	priceSource string
	priceAsOf   *time.Time
	orderID     string
	externalRef string
	clientKey   string
}

// ExecuteOrder validates the request, claims the idempotency slot, and
// applies the order atomically: lock the holding row, debit or credit
// it, append the trade, adjust cash, commit. The response is stored
// under the idempotency key and replayed verbatim for any duplicate
// request bearing the same key.
func (e *Engine) ExecuteOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResponse, error) {
	params, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Int64("account_id", params.accountID).
		Str("symbol", params.symbolUpper).
		Str("side", params.side).
		Str("service", "ledger").
		Logger()

	begin, err := e.idem.Begin(params.accountID, params.clientKey, idempotency.ScopeOrderExecute)
	if err != nil {
		return nil, err
	}
	switch begin.State {
	case idempotency.StateReplayed:
		var stored types.OrderResponse
		if err := idempotency.Decode(begin.Response, &stored); err != nil {
			return nil, fmt.Errorf("replay stored response: %w", err)
		}
		logger.Info().Str("trade_id", stored.Trade.TradeID).Msg("replaying stored order response")
		return &stored, nil
	case idempotency.StateInFlight:
		return nil, fmt.Errorf("%w: key %s", ErrDuplicateInFlight, params.clientKey)
	}

	assetID, err := e.assets.ResolveAssetID(params.symbolLower)
	if err != nil {
		e.abort(params, logger)
		return nil, err
	}

	gross := params.price.Mul(params.quantity)
	feeInBase := params.fee
	if params.feeCurrency != e.baseCurrency {
		// Fees in other currencies are not converted; they carry on the
		// trade record but do not move cash.
		feeInBase = decimal.Zero
		if !params.fee.IsZero() {
			logger.Warn().
				Str("fee_currency", params.feeCurrency).
				Str("fee", params.fee.String()).
				Msg("non-base fee currency, fee excluded from cash delta")
		}
	}

	var cashDelta decimal.Decimal
	if params.side == types.SideBuy {
		cashDelta = gross.Add(feeInBase).Neg()
	} else {
		cashDelta = gross.Sub(feeInBase)
	}

	trade, newCash, newQty, err := e.applyOrder(ctx, params, assetID, cashDelta)
	if err != nil {
		e.releaseOnFailure(err, params, logger)
		return nil, err
	}

	// Best-effort projection update; a failure here never rolls back
	// the committed trade.
	if err := e.balances.Set(params.accountID, assetID, FormatAmount(newQty)); err != nil {
		logger.Warn().Err(err).Int64("asset_id", assetID).Msg("cached balance update failed")
	}

	response := &types.OrderResponse{
		Trade:          *trade,
		NewCashBalance: FormatAmount(newCash),
	}
	if err := e.idem.End(params.accountID, params.clientKey, idempotency.ScopeOrderExecute,
		"order.response", response); err != nil {
		return nil, err
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("quantity", FormatAmount(params.quantity)).
		Str("price", FormatAmount(params.price)).
		Str("new_cash_balance", response.NewCashBalance).
		Msg("order executed")

	return response, nil
}

// releaseOnFailure releases the PROCESSING claim after a failed
// execution so the client can retry with the same key. A rollback
// before commit proves nothing was written; an ambiguous commit does
// not, so that claim is kept and left to the processing TTL.
func (e *Engine) releaseOnFailure(err error, params *execParams, logger zerolog.Logger) {
	if errors.Is(err, errAmbiguousCommit) {
		logger.Error().Err(err).Msg("commit outcome unknown, keeping idempotency claim")
		return
	}
	e.abort(params, logger)
}

// abort releases the PROCESSING claim after a failed execution. The
// failure itself is the caller's to report; a failed abort only delays
// retries until the processing TTL expires.
func (e *Engine) abort(params *execParams, logger zerolog.Logger) {
	if err := e.idem.Abort(params.accountID, params.clientKey, idempotency.ScopeOrderExecute); err != nil {
		logger.Warn().Err(err).Msg("failed to release idempotency claim")
	}
}

// applyOrder runs the single atomic transaction spanning the holding
// mutation, the trade insert and the cash adjustment. The account lock
// is taken before the holding lock; every mutator uses that order.
func (e *Engine) applyOrder(ctx context.Context, params *execParams, assetID int64, cashDelta decimal.Decimal) (*types.Trade, decimal.Decimal, decimal.Decimal, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()

	releaseAccount, err := e.locks.Acquire(lockCtx, AccountKey(params.accountID))
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	defer releaseAccount()

	tx, err := e.db.Begin()
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}

	currentQty, releaseHolding, err := e.holdings.LockForUpdate(lockCtx, tx, params.accountID, params.symbolUpper)
	if err != nil {
		tx.Rollback()
		return nil, decimal.Zero, decimal.Zero, err
	}
	defer releaseHolding()

	var newQty decimal.Decimal
	if params.side == types.SideSell {
		if currentQty.Add(Epsilon).LessThan(params.quantity) {
			tx.Rollback()
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: have %s, want %s",
				ErrInsufficientHolding, FormatAmount(currentQty), FormatAmount(params.quantity))
		}
		newQty, err = e.holdings.Debit(tx, params.accountID, params.symbolUpper, params.quantity)
	} else {
		newQty, err = e.holdings.Credit(tx, params.accountID, params.symbolUpper, params.quantity)
	}
	if err != nil {
		tx.Rollback()
		return nil, decimal.Zero, decimal.Zero, err
	}

	trade := &types.Trade{
		TradeID:     "TRD_" + uuid.New().String(),
		AccountID:   params.accountID,
		AssetID:     assetID,
		Side:        params.side,
		OrderKind:   params.orderKind,
		Quantity:    params.quantity,
		Price:       params.price,
		Fee:         params.fee,
		FeeCurrency: params.feeCurrency,
		ExecutedAt:  time.Now().UTC(),
		PriceSource: params.priceSource,
		PriceAsOf:   params.priceAsOf,
		OrderID:     params.orderID,
		ExternalRef: params.externalRef,
	}
	if err := e.db.CreateTrade(tx, trade); err != nil {
		tx.Rollback()
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("record trade: %w", err)
	}

	newCash, err := e.db.AdjustCashBalance(tx, params.accountID, cashDelta)
	if err != nil {
		tx.Rollback()
		return nil, decimal.Zero, decimal.Zero, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", errAmbiguousCommit, err)
	}
	return trade, newCash, newQty, nil
}

// validate checks the request contract before any side effect.
func (e *Engine) validate(req *types.OrderRequest) (*execParams, error) {
	if req.AccountID <= 0 {
		return nil, validationf("account_id must be positive")
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return nil, validationf("symbol is required")
	}

	side := strings.ToUpper(req.Side)
	if side != types.SideBuy && side != types.SideSell {
		return nil, validationf("side must be BUY or SELL")
	}
	kind := strings.ToUpper(req.OrderKind)
	if kind != types.KindMarket && kind != types.KindLimit {
		return nil, validationf("order_kind must be MARKET or LIMIT")
	}

	quantity, err := ParseAmount(req.Quantity)
	if err != nil {
		return nil, validationf("quantity: %q is not a valid decimal", req.Quantity)
	}
	if quantity.IsZero() {
		return nil, validationf("quantity must be greater than zero")
	}
	price, err := ParseAmount(req.Price)
	if err != nil {
		return nil, validationf("price: %q is not a valid decimal", req.Price)
	}

	fee := decimal.Zero
	if req.Fee != "" {
		fee, err = ParseAmount(req.Fee)
		if err != nil {
			return nil, validationf("fee: %q is not a valid decimal", req.Fee)
		}
	}
	feeCurrency := strings.ToUpper(req.FeeCurrency)
	if feeCurrency == "" {
		feeCurrency = e.baseCurrency
	}

	// A market order must be timestamped to the price snapshot it
	// executed against.
	if kind == types.KindMarket && req.PriceAsOf == nil {
		return nil, validationf("price_as_of is required for MARKET orders")
	}

	if len(req.IdempotencyKey) < MinIdempotencyKeyLength {
		return nil, validationf("idempotency key must be at least %d characters", MinIdempotencyKeyLength)
	}

	return &execParams{
		accountID:   req.AccountID,
		symbolUpper: strings.ToUpper(symbol),
		symbolLower: strings.ToLower(symbol),
		side:        side,
		orderKind:   kind,
		quantity:    quantity,
		price:       price,
		fee:         fee,
		feeCurrency: feeCurrency,
		priceSource: req.PriceSource,
		priceAsOf:   req.PriceAsOf,
		orderID:     req.OrderID,
		externalRef: req.ExternalRef,
		clientKey:   req.IdempotencyKey,
	}, nil
}
