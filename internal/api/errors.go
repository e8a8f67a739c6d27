package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-shadowbox/internal/events"
	"github.com/0gfoundation/0g-shadowbox/internal/ledger"
	"github.com/0gfoundation/0g-shadowbox/internal/voucher"
)

// statusFor maps a domain error to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, voucher.ErrSigningUnavailable):
		return http.StatusInternalServerError, "Server misconfigured"
	case errors.Is(err, ledger.ErrContractPaused):
		return http.StatusServiceUnavailable, "rewards are paused"
	case errors.Is(err, ledger.ErrInsufficientRewards):
		return http.StatusConflict, "no rewards to withdraw"
	case errors.Is(err, events.ErrSubmissionNotFound):
		return http.StatusNotFound, "submission not found"
	case errors.Is(err, events.ErrTransport):
		return http.StatusBadGateway, "chain unavailable"
	}
	switch ledger.Classify(err) {
	case ledger.ClassValidation:
		return http.StatusBadRequest, err.Error()
	case ledger.ClassAuthorization:
		return http.StatusForbidden, "forbidden"
	case ledger.ClassTemporal:
		return http.StatusGone, "voucher expired"
	case ledger.ClassReplay:
		return http.StatusConflict, "voucher already used"
	case ledger.ClassTransport:
		return http.StatusBadGateway, "upstream unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": msg})
}
