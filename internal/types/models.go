package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides and kinds
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	KindMarket = "MARKET"
	KindLimit  = "LIMIT"
)

// Transfer types and statuses
const (
	TransferDeposit    = "DEPOSIT"
	TransferWithdrawal = "WITHDRAWAL"

	TransferPending = "PENDING"
	TransferSuccess = "SUCCESS"
)

// Account holds the cash balance for a single authenticated account.
// The balance is mutated only by the order execution engine and by
// transfer settlement, always inside a transaction.
//
// Decimal columns are declared TEXT throughout: sqlite's numeric
// affinity would pass decimal strings through float64 and truncate
// anything beyond ~15 significant digits.
type Account struct {
	gorm.Model  `json:"-"`
	AccountID   int64           `gorm:"uniqueIndex" json:"account_id"`
	CashBalance decimal.Decimal `gorm:"type:text;not null;default:0" json:"cash_balance"`
}

// Holding is the per-(account, symbol) tradeable quantity. One row per
// pair, created lazily on first credit. Quantity never goes negative.
type Holding struct {
	gorm.Model `json:"-"`
	AccountID  int64           `gorm:"uniqueIndex:idx_holdings_account_symbol" json:"account_id"`
	Symbol     string          `gorm:"uniqueIndex:idx_holdings_account_symbol" json:"symbol"` // uppercase
	Quantity   decimal.Decimal `gorm:"type:text;not null;default:0" json:"quantity"`
}

// Trade is the immutable, append-only record of an executed order.
// Trades are never updated or deleted; together with settled transfers
// they are the ground truth for balance reconciliation.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string          `gorm:"uniqueIndex" json:"trade_id"`
	AccountID   int64           `gorm:"index:idx_trades_account_asset" json:"account_id"`
	AssetID     int64           `gorm:"index:idx_trades_account_asset" json:"asset_id"`
	Side        string          `json:"side"`       // BUY or SELL
	OrderKind   string          `json:"order_kind"` // MARKET or LIMIT
	Quantity    decimal.Decimal `gorm:"type:text" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:text" json:"price"`
	Fee         decimal.Decimal `gorm:"type:text" json:"fee"`
	FeeCurrency string          `json:"fee_currency"`
	ExecutedAt  time.Time       `json:"executed_at"`
	PriceSource string          `json:"price_source,omitempty"`
	PriceAsOf   *time.Time      `json:"price_as_of,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	ExternalRef string          `json:"external_ref,omitempty"`
}

// Transfer records an external deposit or withdrawal. A transfer is
// immutable once settled; only SUCCESS transfers count toward
// reconciliation.
type Transfer struct {
	gorm.Model  `json:"-"`
	TransferID  string          `gorm:"uniqueIndex" json:"transfer_id"`
	AccountID   int64           `gorm:"index:idx_transfers_account_asset" json:"account_id"`
	AssetID     int64           `gorm:"index:idx_transfers_account_asset" json:"asset_id"`
	Type        string          `json:"type"`   // DEPOSIT or WITHDRAWAL
	Status      string          `json:"status"` // PENDING or SUCCESS
	Amount      decimal.Decimal `gorm:"type:text" json:"amount"`
	RequestedAt time.Time       `json:"requested_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// CachedBalance is a derived, best-effort projection of the per-asset
// balance. It may lag or diverge from the trade/transfer history; the
// reconciliation job is the only writer authorized to force it back
// into agreement.
type CachedBalance struct {
	gorm.Model `json:"-"`
	AccountID  int64  `gorm:"uniqueIndex:idx_cached_balances_account_asset" json:"account_id"`
	AssetID    int64  `gorm:"uniqueIndex:idx_cached_balances_account_asset" json:"asset_id"`
	Balance    string `gorm:"type:varchar(64)" json:"balance"` // canonical decimal string
}
