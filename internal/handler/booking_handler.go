package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/service"
	"github.com/prohmpiriya/program-booking-engine/pkg/response"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	lifecycle service.BookingLifecycle
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(lifecycle service.BookingLifecycle) *BookingHandler {
	return &BookingHandler{lifecycle: lifecycle}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_id and expected_amount are required")
		return
	}
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	result, err := h.lifecycle.RequestBooking(ctx, userID, req.SessionID, *req.ExpectedAmount)
	if err != nil {
		telemetry.FailSpan(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.BookingID))
	response.Created(c, result)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.lifecycle.Cancel(ctx, userID, bookingID)
	if err != nil {
		telemetry.FailSpan(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.lifecycle.GetBooking(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var q dto.ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "limit must be 1-100 and offset non-negative")
		return
	}

	result, err := h.lifecycle.ListUserBookings(c.Request.Context(), userID, q.Limit, q.Offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMeta(c, result, response.Meta{Limit: q.Limit, Offset: q.Offset, Count: len(result)})
}

// GetAvailability handles GET /sessions/:id/availability
func (h *BookingHandler) GetAvailability(c *gin.Context) {
	result, err := h.lifecycle.GetAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
