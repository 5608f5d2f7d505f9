package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/motorcart-next/internal/constants"

	"github.com/shopspring/decimal"
)

func TestManualGatewayReturnsPendingIntent(t *testing.T) {
	gw := NewManualGateway()
	intent, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{
		OrderID:        1,
		Amount:         decimal.RequireFromString("42120.00"),
		Currency:       "USD",
		IdempotencyKey: "order-1-attempt-1",
	})
	if err != nil {
		t.Fatalf("create intent failed: %v", err)
	}
	if intent.Status != constants.PaymentStatusPending {
		t.Fatalf("manual intent should be pending, got %s", intent.Status)
	}
	if !strings.HasPrefix(intent.ID, "manual_order-1-attempt-1") {
		t.Fatalf("idempotency key should be reused in intent id: %s", intent.ID)
	}
	again, _ := gw.CreatePaymentIntent(context.Background(), IntentRequest{Amount: decimal.NewFromInt(1), IdempotencyKey: "order-1-attempt-1"})
	if again.ID != intent.ID {
		t.Fatalf("same idempotency key should give same intent id")
	}
}
