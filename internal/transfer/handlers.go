package transfer

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/coinledger/internal/types"
	"github.com/ksred/coinledger/pkg/response"
)

// GinHandlers contains HTTP handlers for transfer endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateTransferHandler handles POST requests to create transfers.
// Requires a valid JWT token; the account id comes from the token.
func (h *GinHandlers) CreateTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.AccountID = c.GetInt64("accountID")

		transfer, err := h.service.Create(&req)
		response.Handle(c, transfer, err)
	}
}

// SettleTransferHandler handles POST requests to settle a pending
// transfer. Internal endpoint.
// URL parameter: transfer_id
func (h *GinHandlers) SettleTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		transferID := c.Param("transfer_id")

		transfer, err := h.service.Settle(c.Request.Context(), transferID)
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "Transfer not found")
		case errors.Is(err, ErrNotPending):
			response.Conflict(c, "Transfer is not pending")
		default:
			response.Handle(c, transfer, err)
		}
	}
}

// ListTransfersHandler handles GET requests for the account's transfers.
func (h *GinHandlers) ListTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		transfers, err := h.service.ListForAccount(c.GetInt64("accountID"))
		response.Handle(c, transfers, err)
	}
}
