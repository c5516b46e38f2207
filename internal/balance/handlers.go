package balance

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/coinledger/pkg/response"
)

// GinHandlers contains HTTP handlers for reconciliation endpoints
type GinHandlers struct {
	reconciler *Reconciler
}

func NewGinHandlers(reconciler *Reconciler) *GinHandlers {
	return &GinHandlers{reconciler: reconciler}
}

// ReconcileHandler handles POST requests to run an on-demand
// reconciliation scan. Internal endpoint.
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		corrected, err := h.reconciler.ReconcileAll(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"corrected": corrected})
	}
}
