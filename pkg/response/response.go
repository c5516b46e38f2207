package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/coinledger/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeDuplicateResource   = "DUPLICATE_RESOURCE"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeRetryable           = "RETRYABLE"
)

// Handle maps the ledger error taxonomy onto transport status codes.
// Validation and business-rule failures return specific, stable codes;
// infrastructure failures return a generic retryable error without
// leaking internal detail.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrValidation):
		ErrorWith(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, types.ErrAssetNotFound),
		errors.Is(err, types.ErrAccountNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrDuplicateInFlight):
		ErrorWith(c, http.StatusConflict, ErrCodeDuplicateResource, err.Error())
	case errors.Is(err, types.ErrInsufficientHolding),
		errors.Is(err, types.ErrInsufficientFunds):
		ErrorWith(c, http.StatusConflict, ErrCodeInsufficientBalance, err.Error())
	case errors.Is(err, types.ErrLockTimeout):
		ErrorWith(c, http.StatusServiceUnavailable, ErrCodeRetryable, "Temporarily unavailable, please retry")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorWith sends an error response with an explicit status and code
func ErrorWith(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	ErrorWith(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	ErrorWith(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	ErrorWith(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	ErrorWith(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	ErrorWith(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	ErrorWith(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}
