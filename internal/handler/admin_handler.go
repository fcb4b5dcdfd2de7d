package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/service"
	"github.com/prohmpiriya/program-booking-engine/pkg/response"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// AdminHandler handles operator endpoints
type AdminHandler struct {
	admin service.AdminOperations
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin service.AdminOperations) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// OverrideStatus handles POST /admin/bookings/:id/override
func (h *AdminHandler) OverrideStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.override")
	defer span.End()

	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.AdminOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "status and reason are required")
		return
	}
	span.SetAttributes(
		attribute.String("booking_id", c.Param("id")),
		attribute.String("status", req.Status),
	)

	result, err := h.admin.Override(ctx, actor, c.Param("id"), req.Status, req.Reason)
	if err != nil {
		telemetry.FailSpan(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// ListConflicts handles GET /admin/payment-conflicts
func (h *AdminHandler) ListConflicts(c *gin.Context) {
	var q dto.ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "limit must be 1-100 and offset non-negative")
		return
	}

	conflicts, err := h.admin.ListConflicts(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMeta(c, conflicts, response.Meta{Limit: q.Limit, Offset: q.Offset, Count: len(conflicts)})
}
