package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid    = errors.New("payment config invalid")
	ErrDeclined         = errors.New("payment declined")
	ErrFraudSuspected   = errors.New("payment suspected fraudulent")
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrSignatureInvalid = errors.New("payment signature invalid")
	ErrPayloadInvalid   = errors.New("payment payload invalid")
)

// IntentRequest 创建支付意图请求
type IntentRequest struct {
	OrderID        uint
	OrderNo        string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent 支付意图，Status 取值为支付状态常量
type Intent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ClientSecret   string `json:"client_secret,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// WebhookEvent 已验签的网关事件
type WebhookEvent struct {
	EventID  string
	Type     string
	IntentID string
	OrderID  uint
	Raw      map[string]interface{}
}

// Gateway 支付网关
type Gateway interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmPayment(ctx context.Context, intentID string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
}
