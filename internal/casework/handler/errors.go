// Package handler exposes the case-work coordinator over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"go.uber.org/zap"
)

// statusFor maps a service error to its HTTP status code.
func statusFor(err error) int {
	var (
		verr *model.ErrValidation
		terr *model.ErrTransition
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &terr),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrLedgerDiverged):
		return http.StatusConflict
	case errors.Is(err, service.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err as a JSON error body. Internal errors are logged and
// their detail is not returned to the caller.
func respondErr(c *gin.Context, logger *zap.Logger, op string, err error) {
	code := statusFor(err)
	switch {
	case code >= http.StatusInternalServerError:
		logger.Error(op+" failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	case code != http.StatusNotFound:
		logger.Warn(op+" rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(code, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
