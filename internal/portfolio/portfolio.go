package portfolio

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/coinledger/internal/balance"
	"github.com/ksred/coinledger/internal/ledger"
	"github.com/ksred/coinledger/internal/transfer"
	"github.com/ksred/coinledger/internal/types"
	"github.com/ksred/coinledger/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service assembles the fast-path balance view. Cached projection
// values are advisory: any asset missing from the cache falls back to
// the holdings store, which is the store of record for tradeable
// quantity.
type Service struct {
	db       *gorm.DB
	ledgerDB *ledger.Database
	store    balance.Store
	assets   transfer.AssetDirectory
}

func NewService(gormDB *gorm.DB, store balance.Store, assets transfer.AssetDirectory) *Service {
	return &Service{
		db:       gormDB,
		ledgerDB: ledger.NewDatabase(gormDB),
		store:    store,
		assets:   assets,
	}
}

// GetPortfolio returns the cash balance and per-asset balances for one
// account.
func (s *Service) GetPortfolio(accountID int64) (*types.PortfolioResponse, error) {
	account, err := s.ledgerDB.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	var holdings []types.Holding
	if err := s.db.Where("account_id = ?", accountID).
		Order("symbol ASC").Find(&holdings).Error; err != nil {
		return nil, err
	}

	balances := make([]types.AssetBalance, 0, len(holdings))
	for _, holding := range holdings {
		balances = append(balances, s.assetBalance(accountID, holding))
	}

	return &types.PortfolioResponse{
		AccountID:   accountID,
		CashBalance: ledger.FormatAmount(account.CashBalance),
		Balances:    balances,
	}, nil
}

func (s *Service) assetBalance(accountID int64, holding types.Holding) types.AssetBalance {
	fromLedger := types.AssetBalance{
		Symbol:  holding.Symbol,
		Balance: ledger.FormatAmount(holding.Quantity),
		Source:  "ledger",
	}

	assetID, err := s.assets.ResolveAssetID(strings.ToLower(holding.Symbol))
	if err != nil {
		return fromLedger
	}
	raw, found, err := s.store.Get(accountID, assetID)
	if err != nil || !found {
		return fromLedger
	}
	value, err := ledger.ParseBalance(raw)
	if err != nil {
		log.Warn().
			Int64("account_id", accountID).
			Int64("asset_id", assetID).
			Str("raw", raw).
			Msg("unparseable cached balance, using holdings store")
		return fromLedger
	}
	return types.AssetBalance{
		Symbol:  holding.Symbol,
		Balance: ledger.FormatAmount(value),
		Source:  "cache",
	}
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetPortfolioHandler handles GET requests for the account's balances.
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolio, err := h.service.GetPortfolio(c.GetInt64("accountID"))
		response.Handle(c, portfolio, err)
	}
}
