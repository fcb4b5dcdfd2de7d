package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/service"
	"github.com/prohmpiriya/program-booking-engine/pkg/response"
)

// maxWebhookBytes matches Stripe's documented payload ceiling
const maxWebhookBytes = 65536

// SignatureHeader carries the processor's webhook signature
const SignatureHeader = "Stripe-Signature"

// WebhookReconciler handles verified webhook payloads
type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) (service.Outcome, error)
}

// WebhookHandler receives payment processor notifications
type WebhookHandler struct {
	reconciler WebhookReconciler
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconciler WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandlePayment handles POST /webhooks/payments. It answers 200 only after the
// event was applied or recognised as a no-op; any other failure asks the
// processor to redeliver.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(payload) > maxWebhookBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook payload too large", "")
		return
	}

	outcome, err := h.reconciler.Handle(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			handleError(c, err)
			return
		}
		response.InternalError(c)
		return
	}

	response.Success(c, dto.WebhookResponse{Received: true, Outcome: string(outcome)})
}
