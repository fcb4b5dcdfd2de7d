package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/middleware"
	"github.com/prohmpiriya/program-booking-engine/pkg/response"
	"go.uber.org/zap"
)

// handleError maps domain errors to HTTP responses. Unknown errors are logged
// and answered with a generic message so internals never reach the caller.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		response.Conflict(c, "CAPACITY_EXCEEDED", "No seats left for this session")
	case errors.Is(err, domain.ErrSessionCancelled):
		response.Conflict(c, "SESSION_CANCELLED", "This session has been cancelled")
	case errors.Is(err, domain.ErrDuplicateActiveBooking):
		response.Conflict(c, "ALREADY_BOOKED", "You already have an active booking for this session")
	case errors.Is(err, domain.ErrAmountMismatch):
		response.Conflict(c, "PRICE_CHANGED", "The session price has changed, please review and try again")
	case errors.Is(err, domain.ErrStaleTransition):
		response.Conflict(c, "ALREADY_FINALIZED", "This booking has already been finalized")
	case errors.Is(err, domain.ErrSessionInPast):
		response.Error(c, http.StatusUnprocessableEntity, "SESSION_STARTED", "This session has already started", "")
	case errors.Is(err, domain.ErrIllegalTransition):
		response.Error(c, http.StatusUnprocessableEntity, "ILLEGAL_TRANSITION", "This status change is not allowed", "")
	case errors.Is(err, domain.ErrPaymentGatewayUnavailable):
		c.Header("Retry-After", "5")
		response.Error(c, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", "Payment could not be started, please try again", "")
	case errors.Is(err, domain.ErrInvalidSignature):
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed", "")
	case errors.Is(err, domain.ErrSessionNotFound):
		response.NotFound(c, "Session not found")
	case errors.Is(err, domain.ErrBookingNotFound):
		response.NotFound(c, "Booking not found")
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	default:
		logger.Get().Error("Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c)
	}
}

func currentUser(c *gin.Context) (string, bool) {
	id, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return "", false
	}
	return id, true
}
