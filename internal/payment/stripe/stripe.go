package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/payment"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	defaultWebhookToleranceS = 300
	captureMethodManual      = "manual"
	captureMethodAutomatic   = "automatic"
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

// Config Stripe 配置
type Config struct {
	SecretKey               string
	WebhookSecret           string
	CaptureMethod           string
	APIBaseURL              string
	WebhookToleranceSeconds int
}

type intentAPI interface {
	New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Confirm(id string, params *stripeapi.PaymentIntentConfirmParams) (*stripeapi.PaymentIntent, error)
	Get(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
}

// Gateway Stripe PaymentIntent 网关
type Gateway struct {
	cfg     Config
	intents intentAPI
}

// New 创建 Stripe 网关
func New(cfg Config) (*Gateway, error) {
	cfg.normalize()
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret_key is required", payment.ErrConfigInvalid)
	}
	var backends *stripeapi.Backends
	if cfg.APIBaseURL != "" {
		backends = &stripeapi.Backends{
			API: stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
				URL: stripeapi.String(cfg.APIBaseURL),
			}),
		}
	}
	sc := client.New(cfg.SecretKey, backends)
	return newWithAPI(cfg, sc.PaymentIntents), nil
}

func newWithAPI(cfg Config, intents intentAPI) *Gateway {
	cfg.normalize()
	return &Gateway{cfg: cfg, intents: intents}
}

func (c *Config) normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	switch strings.ToLower(strings.TrimSpace(c.CaptureMethod)) {
	case captureMethodAutomatic:
		c.CaptureMethod = captureMethodAutomatic
	default:
		c.CaptureMethod = captureMethodManual
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
}

// Name 网关名称
func (g *Gateway) Name() string { return "stripe" }

// CreatePaymentIntent 创建 PaymentIntent，幂等键透传给 Stripe
func (g *Gateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", payment.ErrConfigInvalid)
	}
	minor, err := toMinorAmount(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(minor),
		Currency:      stripeapi.String(strings.ToLower(currency)),
		CaptureMethod: stripeapi.String(g.cfg.CaptureMethod),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
		Description: stripeapi.String(strings.TrimSpace(req.OrderNo)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripeapi.String(email)
	}
	params.AddMetadata("order_id", strconv.FormatUint(uint64(req.OrderID), 10))
	params.AddMetadata("order_no", strings.TrimSpace(req.OrderNo))
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return nil, mapError(ctx, "create payment intent", err)
	}
	return toIntent(intent), nil
}

// ConfirmPayment 确认 PaymentIntent
func (g *Gateway) ConfirmPayment(ctx context.Context, intentID string) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.SetIdempotencyKey("confirm-" + strings.TrimSpace(intentID))
	intent, err := g.intents.Confirm(strings.TrimSpace(intentID), params)
	if err != nil {
		return nil, mapError(ctx, "confirm payment intent", err)
	}
	return toIntent(intent), nil
}

// GetPaymentIntent 查询 PaymentIntent
func (g *Gateway) GetPaymentIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(strings.TrimSpace(intentID), params)
	if err != nil {
		return nil, mapError(ctx, "get payment intent", err)
	}
	return toIntent(intent), nil
}

func toIntent(intent *stripeapi.PaymentIntent) *payment.Intent {
	if intent == nil {
		return &payment.Intent{Status: constants.PaymentStatusPending}
	}
	result := &payment.Intent{
		ID:           intent.ID,
		Status:       mapPaymentIntentStatus(intent.Status, intent.LastPaymentError != nil),
		ClientSecret: intent.ClientSecret,
	}
	if lastErr := intent.LastPaymentError; lastErr != nil {
		result.FailureCode = string(lastErr.Code)
		result.FailureMessage = lastErr.Msg
	}
	return result
}

func mapPaymentIntentStatus(status stripeapi.PaymentIntentStatus, hasPaymentError bool) string {
	switch status {
	case stripeapi.PaymentIntentStatusSucceeded:
		return constants.PaymentStatusCaptured
	case stripeapi.PaymentIntentStatusRequiresCapture:
		return constants.PaymentStatusAuthorized
	case stripeapi.PaymentIntentStatusCanceled:
		return constants.PaymentStatusFailed
	case stripeapi.PaymentIntentStatusRequiresPaymentMethod:
		if hasPaymentError {
			return constants.PaymentStatusFailed
		}
		return constants.PaymentStatusPending
	default:
		return constants.PaymentStatusPending
	}
}

// mapError 将 Stripe 错误归类为网关通用错误
func mapError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("stripe: %s: %w", op, ctxErr)
	}
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripeapi.ErrorTypeCard {
			switch stripeErr.DeclineCode {
			case stripeapi.DeclineCodeFraudulent, stripeapi.DeclineCodeStolenCard, stripeapi.DeclineCodeLostCard:
				return fmt.Errorf("%w: %s", payment.ErrFraudSuspected, stripeErr.Msg)
			}
			return fmt.Errorf("%w: %s", payment.ErrDeclined, stripeErr.Msg)
		}
		if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return fmt.Errorf("%w: stripe %s: %s", payment.ErrPayloadInvalid, op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%w: stripe %s: %v", payment.ErrUnavailable, op, err)
}

// VerifyAndParseWebhook 校验签名并解析 PaymentIntent 事件
func (g *Gateway) VerifyAndParseWebhook(headers map[string]string, body []byte, now time.Time) (*payment.WebhookEvent, error) {
	return VerifyAndParseWebhook(g.cfg, headers, body, now)
}

// VerifyAndParseWebhook 校验签名并解析 PaymentIntent 事件
func VerifyAndParseWebhook(cfg Config, headers map[string]string, body []byte, now time.Time) (*payment.WebhookEvent, error) {
	cfg.normalize()
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook_secret is required", payment.ErrConfigInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", payment.ErrPayloadInvalid)
	}
	if now.IsZero() {
		now = time.Now()
	}

	signatureHeader := getHeaderValue(headers, "Stripe-Signature")
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: Stripe-Signature is required", payment.ErrSignatureInvalid)
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}
	if math.Abs(float64(now.Unix()-timestamp)) > float64(cfg.WebhookToleranceSeconds) {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", payment.ErrSignatureInvalid)
	}
	expected := computeSignature(cfg.WebhookSecret, timestamp, body)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: verify failed", payment.ErrSignatureInvalid)
	}

	var eventRaw map[string]interface{}
	if err := json.Unmarshal(body, &eventRaw); err != nil {
		return nil, fmt.Errorf("%w: decode event failed", payment.ErrPayloadInvalid)
	}
	eventID := readString(eventRaw, "id")
	eventType := readString(eventRaw, "type")
	if eventID == "" || eventType == "" {
		return nil, fmt.Errorf("%w: missing event id or type", payment.ErrPayloadInvalid)
	}
	objectRaw := readMap(readMap(eventRaw, "data"), "object")
	if objectRaw == nil {
		return nil, fmt.Errorf("%w: missing event object", payment.ErrPayloadInvalid)
	}

	event := &payment.WebhookEvent{
		EventID: eventID,
		Type:    mapEventType(eventType),
		Raw:     eventRaw,
	}
	switch readString(objectRaw, "object") {
	case "payment_intent":
		event.IntentID = readString(objectRaw, "id")
	case "charge":
		event.IntentID = readString(objectRaw, "payment_intent")
	}
	if raw := readString(readMap(objectRaw, "metadata"), "order_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			event.OrderID = uint(id)
		}
	}
	return event, nil
}

// mapEventType 映射为内部支付事件类型，未识别的原样返回
func mapEventType(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment_intent.amount_capturable_updated":
		return constants.PaymentEventAuthorized
	case "payment_intent.succeeded":
		return constants.PaymentEventSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return constants.PaymentEventFailed
	case "charge.refunded":
		return constants.PaymentEventRefunded
	default:
		return eventType
	}
}

func toMinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be greater than zero", payment.ErrConfigInvalid)
	}
	scale := currencyScale(currency)
	minor := amount.Shift(int32(scale))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount precision is invalid", payment.ErrConfigInvalid)
	}
	return minor.IntPart(), nil
}

func currencyScale(currency string) int {
	upper := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := zeroDecimalCurrencies[upper]; ok {
		return 0
	}
	return 2
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	payload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

func parseSignatureHeader(signatureHeader string) (int64, []string, error) {
	timestamp := int64(0)
	signatures := make([]string, 0)
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", payment.ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, strings.ToLower(value))
			}
		}
	}
	if timestamp <= 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", payment.ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is missing", payment.ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

func getHeaderValue(headers map[string]string, key string) string {
	for h, value := range headers {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	switch typed := raw[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil {
		return nil
	}
	mapped, _ := raw[key].(map[string]interface{})
	return mapped
}
