package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/coinledger/internal/types"
	"github.com/ksred/coinledger/pkg/response"
)

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// ExecuteOrderHandler handles POST requests to execute orders.
// Requires a valid JWT token and an Idempotency-Key header. The
// account id comes from the token, never from the body.
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.IdempotencyKey = idempotencyKey
		req.AccountID = c.GetInt64("accountID")

		result, err := h.engine.ExecuteOrder(c.Request.Context(), &req)
		response.Handle(c, result, err)
	}
}

// GetTradeHandler handles GET requests for a single trade record.
// URL parameter: trade_id
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID := c.Param("trade_id")
		if tradeID == "" {
			response.BadRequest(c, "Trade ID is required")
			return
		}

		trade, err := h.engine.DB().GetTrade(tradeID)
		if err != nil || trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}
		if trade.AccountID != c.GetInt64("accountID") {
			response.NotFound(c, "Trade not found")
			return
		}

		response.Success(c, trade)
	}
}

// ListTradesHandler handles GET requests for the account's trades.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.engine.DB().GetAccountTrades(c.GetInt64("accountID"))
		response.Handle(c, trades, err)
	}
}
