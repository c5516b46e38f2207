package types

import "time"

// OrderRequest is the body of an order execution call. Quantity, price
// and fee travel as decimal strings; they are parsed into exact decimals
// before any side effect. The idempotency key arrives in a header and is
// attached by the handler.
type OrderRequest struct {
	AccountID      int64      `json:"account_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	OrderKind      string     `json:"order_kind"`
	Quantity       string     `json:"quantity"`
	Price          string     `json:"price"`
	Fee            string     `json:"fee,omitempty"`
	FeeCurrency    string     `json:"fee_currency,omitempty"`
	PriceSource    string     `json:"price_source,omitempty"`
	PriceAsOf      *time.Time `json:"price_as_of,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	ExternalRef    string     `json:"external_ref,omitempty"`
	IdempotencyKey string     `json:"-"`
}

// OrderResponse is the result of a successful execution. It is the
// exact payload stored under the idempotency key and replayed verbatim
// for duplicate requests.
type OrderResponse struct {
	Trade          Trade  `json:"trade"`
	NewCashBalance string `json:"new_cash_balance"`
}

// TransferRequest is the body of a deposit/withdrawal creation call.
type TransferRequest struct {
	AccountID int64  `json:"account_id"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
}

// AssetBalance is one line of a portfolio view. Source records whether
// the value came from the cached projection or the holdings store.
type AssetBalance struct {
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
	Source  string `json:"source"`
}

// PortfolioResponse is the fast-path balance view for one account.
type PortfolioResponse struct {
	AccountID   int64          `json:"account_id"`
	CashBalance string         `json:"cash_balance"`
	Balances    []AssetBalance `json:"balances"`
}
