package public

import (
	"errors"
	"io"
	"net/http"
	"time"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/payment/stripe"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// HandleStripeWebhook Stripe webhook 回调。
// 验签失败与载荷错误返回 4xx；处理失败返回 5xx 交由 Stripe 重投。
func (h *Handler) HandleStripeWebhook(c *gin.Context) {
	log := requestLog(c)
	if h.StripeWebhook.WebhookSecret == "" {
		response.ErrorWithHTTPStatus(c, http.StatusServiceUnavailable, response.CodeInternal, handlershared.Message("error.payment_webhook_unavailable"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warnw("stripe_webhook_body_read_failed", "error", err)
		response.ErrorWithHTTPStatus(c, http.StatusBadRequest, response.CodeBadRequest, handlershared.Message("error.bad_request"))
		return
	}
	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) == 0 {
			continue
		}
		headers[key] = values[0]
	}

	event, err := stripe.VerifyAndParseWebhook(h.StripeWebhook, headers, body, time.Now())
	if err != nil {
		log.Warnw("stripe_webhook_verify_failed", "client_ip", c.ClientIP(), "body_size", len(body), "error", err)
		if errors.Is(err, payment.ErrSignatureInvalid) {
			response.ErrorWithHTTPStatus(c, http.StatusBadRequest, response.CodeBadRequest, handlershared.Message("error.payment_signature_invalid"))
			return
		}
		response.ErrorWithHTTPStatus(c, http.StatusBadRequest, response.CodeBadRequest, handlershared.Message("error.payment_event_invalid"))
		return
	}
	outcome, err := h.OrderService.HandlePaymentEvent(c.Request.Context(), service.PaymentEventInput{
		EventID:  event.EventID,
		Type:     event.Type,
		IntentID: event.IntentID,
		OrderID:  event.OrderID,
		Payload:  event.Raw,
	})
	if err != nil {
		log.Warnw("stripe_webhook_handle_failed", "event_id", event.EventID, "event_type", event.Type, "error", err)
		switch {
		case errors.Is(err, service.ErrPaymentEventInvalid), errors.Is(err, service.ErrOrderNotFound):
			response.ErrorWithHTTPStatus(c, http.StatusBadRequest, response.CodeBadRequest, handlershared.Message("error.payment_event_invalid"))
		default:
			response.ErrorWithHTTPStatus(c, http.StatusInternalServerError, response.CodeInternal, handlershared.Message("error.internal"))
		}
		return
	}

	log.Infow("stripe_webhook_processed",
		"event_id", event.EventID,
		"event_type", event.Type,
		"order_id", outcome.OrderID,
		"result", outcome.Result,
		"duplicate", outcome.Duplicate,
	)
	response.Success(c, gin.H{
		"accepted": true,
		"outcome":  outcome,
	})
}
