package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"treasury/internal/ledger"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// respondError maps ledger sentinels onto HTTP statuses so every route
// reports domain failures the same way. Anything unrecognized is a 500.
func respondError(c *gin.Context, err error) {
	switch {
	case err == nil:
		Ok(c, nil, nil)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidDirection),
		errors.Is(err, ledger.ErrUnknownGame),
		errors.Is(err, ledger.ErrInsufficientFunds):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrPositionAlreadyClosed):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ledger.ErrPositionNotFound),
		errors.Is(err, ledger.ErrUnknownInstrument):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrStalePrice),
		errors.Is(err, ledger.ErrStorageUnavailable):
		Error(c, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
