package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/motorcart-next/internal/constants"

	"github.com/google/uuid"
)

// ManualGateway 线下支付/经销商融资，支付状态由管理端或回调推进
type ManualGateway struct{}

// NewManualGateway 创建线下支付网关
func NewManualGateway() *ManualGateway {
	return &ManualGateway{}
}

// Name 网关名称
func (ManualGateway) Name() string { return "manual" }

// CreatePaymentIntent 生成待支付意图
func (ManualGateway) CreatePaymentIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrConfigInvalid)
	}
	id := strings.TrimSpace(req.IdempotencyKey)
	if id == "" {
		id = uuid.NewString()
	}
	return &Intent{ID: "manual_" + id, Status: constants.PaymentStatusPending}, nil
}

// ConfirmPayment 线下支付无在线确认
func (ManualGateway) ConfirmPayment(_ context.Context, intentID string) (*Intent, error) {
	return &Intent{ID: intentID, Status: constants.PaymentStatusPending}, nil
}

// GetPaymentIntent 线下支付始终返回待支付
func (ManualGateway) GetPaymentIntent(_ context.Context, intentID string) (*Intent, error) {
	return &Intent{ID: intentID, Status: constants.PaymentStatusPending}, nil
}
