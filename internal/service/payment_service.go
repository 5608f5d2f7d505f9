package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/queue"

	"gorm.io/gorm"
)

const paymentEventDedupScope = "payment_event"

var errDuplicatePaymentEvent = errors.New("duplicate payment event")

// PaymentEventInput 已验签的支付事件
type PaymentEventInput struct {
	EventID  string
	Type     string
	IntentID string
	OrderID  uint
	Actor    string
	Payload  map[string]interface{}
}

// EventOutcome 支付事件处理结果
type EventOutcome struct {
	EventID       string `json:"event_id"`
	OrderID       uint   `json:"order_id"`
	Result        string `json:"result"`
	Duplicate     bool   `json:"duplicate"`
	Detail        string `json:"detail,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	OrderStatus   string `json:"order_status,omitempty"`
}

// paymentTargetForEvent 事件类型对应的目标支付状态，未知类型返回空串
func paymentTargetForEvent(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case constants.PaymentEventAuthorized:
		return constants.PaymentStatusAuthorized
	case constants.PaymentEventSucceeded:
		return constants.PaymentStatusCaptured
	case constants.PaymentEventFailed:
		return constants.PaymentStatusFailed
	case constants.PaymentEventRefunded:
		return constants.PaymentStatusRefunded
	default:
		return ""
	}
}

func eventTypeForStatus(status string) string {
	switch status {
	case constants.PaymentStatusAuthorized:
		return constants.PaymentEventAuthorized
	case constants.PaymentStatusCaptured:
		return constants.PaymentEventSucceeded
	case constants.PaymentStatusFailed:
		return constants.PaymentEventFailed
	default:
		return ""
	}
}

// HandlePaymentEvent 按事件ID幂等地应用支付事件，授权或扣款成功时自动确认订单
func (s *OrderService) HandlePaymentEvent(ctx context.Context, input PaymentEventInput) (*EventOutcome, error) {
	input.EventID = strings.TrimSpace(input.EventID)
	input.Type = strings.ToLower(strings.TrimSpace(input.Type))
	if input.EventID == "" || input.Type == "" {
		return nil, ErrPaymentEventInvalid
	}
	if input.Actor == "" {
		input.Actor = constants.ActorWebhook
	}

	marked := false
	if s.deduper != nil {
		first, err := s.deduper.MarkOnce(ctx, paymentEventDedupScope, input.EventID)
		if err != nil {
			s.log.Warnw("payment_event_dedup_failed", "event_id", input.EventID, "error", err)
		} else if !first {
			if outcome, err := s.duplicateOutcome(ctx, input.EventID); err != nil || outcome != nil {
				return outcome, err
			}
			// 快速去重命中但库中无记录，说明上次处理未完成
		} else {
			marked = true
		}
	}

	now := s.clock.now()
	outcome := &EventOutcome{EventID: input.EventID}
	var applied []appliedTransition
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, events, err = s.applyPaymentEventInTx(tx, input, outcome, now)
		return err
	})
	if errors.Is(err, errDuplicatePaymentEvent) {
		s.metrics.ObservePaymentEvent(input.Type, "duplicate")
		return s.duplicateOutcome(ctx, input.EventID)
	}
	if err != nil {
		if marked {
			if forgetErr := s.deduper.Forget(ctx, paymentEventDedupScope, input.EventID); forgetErr != nil {
				s.log.Warnw("payment_event_dedup_forget_failed", "event_id", input.EventID, "error", forgetErr)
			}
		}
		s.metrics.ObservePaymentEvent(input.Type, "error")
		return nil, err
	}
	s.metrics.ObservePaymentEvent(input.Type, outcome.Result)
	s.afterTransitions(ctx, applied, events)
	s.log.Infow("payment_event_handled",
		"event_id", input.EventID,
		"event_type", input.Type,
		"order_id", outcome.OrderID,
		"result", outcome.Result,
		"detail", outcome.Detail,
	)
	return outcome, nil
}

func (s *OrderService) duplicateOutcome(ctx context.Context, eventID string) (*EventOutcome, error) {
	existing, err := s.paymentEventRepo.WithTx(s.db.WithContext(ctx)).GetByEventID(eventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	return &EventOutcome{
		EventID:       existing.EventID,
		OrderID:       existing.OrderID,
		Result:        existing.Result,
		Duplicate:     true,
		Detail:        existing.Detail,
		PaymentStatus: existing.PaymentStatus,
	}, nil
}

func (s *OrderService) applyPaymentEventInTx(tx *gorm.DB, input PaymentEventInput, outcome *EventOutcome, now time.Time) ([]appliedTransition, []AuditEvent, error) {
	orderRepo := s.orderRepo.WithTx(tx)
	var order *models.Order
	var err error
	switch {
	case input.OrderID != 0:
		order, err = orderRepo.GetByID(input.OrderID)
	case strings.TrimSpace(input.IntentID) != "":
		order, err = orderRepo.GetByPaymentIntent(strings.TrimSpace(input.IntentID))
	}
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, fmt.Errorf("%w: no order for payment event %s", ErrOrderNotFound, input.EventID)
	}
	outcome.OrderID = order.ID
	staleIntent := input.IntentID != "" && order.PaymentIntentID != "" && order.PaymentIntentID != input.IntentID

	target := paymentTargetForEvent(input.Type)
	var applied []appliedTransition
	var events []AuditEvent
	switch {
	case staleIntent:
		// 重试前的旧意图事件
		outcome.Result = constants.PaymentEventResultRejected
		outcome.Detail = "intent " + input.IntentID + " is not the current intent"
	case target == "":
		outcome.Result = constants.PaymentEventResultIgnored
		outcome.Detail = "unsupported event type"
	case order.PaymentStatus == target:
		outcome.Result = constants.PaymentEventResultIgnored
		outcome.Detail = "payment already " + strings.ToLower(target)
	default:
		transition, transitionEvents, err := s.applyTransitionInTx(tx, order, TransitionRequest{
			Dimension: constants.StatusDimensionPayment,
			Target:    target,
			Actor:     input.Actor,
			Reason:    input.Type,
			Source:    input.EventID,
		}, now)
		switch {
		case isStateError(err):
			// 乱序或非法事件只记录，不让网关无限重试
			outcome.Result = constants.PaymentEventResultRejected
			outcome.Detail = err.Error()
		case err != nil:
			return nil, nil, err
		default:
			outcome.Result = constants.PaymentEventResultApplied
			applied = append(applied, transition)
			events = append(events, transitionEvents...)
			if target == constants.PaymentStatusRefunded && order.OrderStatus != constants.OrderStatusCancelled {
				// 网关侧退款，订单仍在履约中，需人工跟进
				s.log.Warnw("payment_refunded_on_active_order",
					"order_id", order.ID,
					"order_status", order.OrderStatus,
					"fulfillment_status", order.FulfillmentStatus,
					"event_id", input.EventID,
				)
			}
		}
	}

	if outcome.Result == constants.PaymentEventResultApplied &&
		(target == constants.PaymentStatusAuthorized || target == constants.PaymentStatusCaptured) &&
		order.OrderStatus == constants.OrderStatusPending {
		transition, transitionEvents, err := s.applyTransitionInTx(tx, order, TransitionRequest{
			Dimension: constants.StatusDimensionOrder,
			Target:    constants.OrderStatusConfirmed,
			Actor:     input.Actor,
			Reason:    "payment " + strings.ToLower(target),
			Source:    input.EventID,
		}, now)
		if err != nil {
			return nil, nil, err
		}
		applied = append(applied, transition)
		events = append(events, transitionEvents...)
	}

	inserted, err := s.paymentEventRepo.WithTx(tx).CreateIfAbsent(&models.PaymentEvent{
		EventID:       input.EventID,
		OrderID:       order.ID,
		EventType:     input.Type,
		PaymentStatus: target,
		Result:        outcome.Result,
		Detail:        truncate(outcome.Detail, 255),
		Payload:       models.JSON(input.Payload),
		ReceivedAt:    now,
	})
	if err != nil {
		return nil, nil, err
	}
	if !inserted {
		return nil, nil, errDuplicatePaymentEvent
	}
	outcome.PaymentStatus = order.PaymentStatus
	outcome.OrderStatus = order.OrderStatus
	return applied, events, nil
}

// startPayment 下单或重试后创建支付意图；超时保持 PENDING 并安排对账，拒付记为 FAILED
func (s *OrderService) startPayment(ctx context.Context, order *models.Order, actor string) (*payment.Intent, error) {
	if s.gateway == nil {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()
	intent, err := s.gateway.CreatePaymentIntent(callCtx, s.intentRequest(order))
	if err != nil {
		return nil, s.handlePaymentStartError(ctx, order, actor, err)
	}
	if intent == nil {
		return nil, nil
	}
	if intent.ID != "" && intent.ID != order.PaymentIntentID {
		if err := s.orderRepo.WithTx(s.db.WithContext(ctx)).UpdateFields(order.ID, map[string]interface{}{
			"payment_intent_id": intent.ID,
			"updated_at":        s.clock.now(),
		}); err != nil {
			return intent, err
		}
		order.PaymentIntentID = intent.ID
	}
	if eventType := eventTypeForStatus(intent.Status); eventType != "" {
		// 网关同步返回终态时直接按事件处理
		if _, err := s.HandlePaymentEvent(ctx, PaymentEventInput{
			EventID:  syntheticEventID("intent", intent.ID, intent.Status),
			Type:     eventType,
			IntentID: intent.ID,
			OrderID:  order.ID,
			Actor:    actorOrSystem(actor),
		}); err != nil {
			s.log.Warnw("payment_intent_status_apply_failed", "order_id", order.ID, "intent_id", intent.ID, "error", err)
		}
	}
	if intent.Status == constants.PaymentStatusFailed {
		return intent, fmt.Errorf("%w: %s", ErrPaymentProcessing, intent.FailureMessage)
	}
	return intent, nil
}

func (s *OrderService) handlePaymentStartError(ctx context.Context, order *models.Order, actor string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, payment.ErrUnavailable):
		s.log.Warnw("payment_intent_timeout", "order_id", order.ID, "error", err)
		s.scheduleReconcile(order.ID, 1)
		return fmt.Errorf("%w: %v", ErrPaymentGatewayTimeout, err)
	case errors.Is(err, payment.ErrFraudSuspected):
		s.markPaymentFailed(ctx, order, actor, "fraud suspected")
		return fmt.Errorf("%w: %v", ErrFraudDetected, err)
	case errors.Is(err, payment.ErrDeclined):
		s.markPaymentFailed(ctx, order, actor, "declined")
		return fmt.Errorf("%w: %v", ErrPaymentProcessing, err)
	default:
		s.log.Errorw("payment_intent_failed", "order_id", order.ID, "error", err)
		s.scheduleReconcile(order.ID, 1)
		return fmt.Errorf("%w: %v", ErrPaymentProcessing, err)
	}
}

func (s *OrderService) markPaymentFailed(ctx context.Context, order *models.Order, actor, reason string) {
	version := order.Version
	if _, err := s.UpdateStatus(ctx, order.ID, StatusUpdate{
		Dimension:       constants.StatusDimensionPayment,
		Target:          constants.PaymentStatusFailed,
		ExpectedVersion: &version,
		Actor:           actorOrSystem(actor),
		Reason:          reason,
		Source:          "gateway",
	}); err != nil {
		s.log.Warnw("payment_mark_failed_error", "order_id", order.ID, "error", err)
	}
}

func (s *OrderService) intentRequest(order *models.Order) payment.IntentRequest {
	return payment.IntentRequest{
		OrderID:       order.ID,
		OrderNo:       order.OrderNo,
		Amount:        order.TotalAmount.Decimal,
		Currency:      order.Currency,
		Method:        order.PaymentMethod,
		CustomerEmail: order.CustomerInfo.Email,
		// 同一版本重复调用得到同一意图
		IdempotencyKey: fmt.Sprintf("%s-v%d", order.OrderNo, order.Version),
	}
}

func (s *OrderService) scheduleReconcile(orderID uint, attempt int) {
	if s.tasks == nil || !s.tasks.Enabled() {
		return
	}
	delay := s.opts.ReconcileDelay * time.Duration(attempt)
	if err := s.tasks.EnqueuePaymentReconcile(queue.PaymentReconcilePayload{OrderID: orderID, Attempt: attempt}, delay); err != nil {
		s.log.Warnw("payment_reconcile_enqueue_failed", "order_id", orderID, "attempt", attempt, "error", err)
	}
}

// RetryPayment 支付失败后重试：FAILED → PENDING 并重新创建支付意图
func (s *OrderService) RetryPayment(ctx context.Context, userID, orderID uint) (*CheckoutResult, error) {
	order, err := s.GetUserOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != constants.PaymentStatusFailed || order.OrderStatus != constants.OrderStatusPending {
		return nil, fmt.Errorf("%w: payment %s, order %s", ErrPaymentRetryNotAllowed, order.PaymentStatus, order.OrderStatus)
	}
	actor := fmt.Sprintf("user:%d", userID)
	version := order.Version
	order, err = s.UpdateStatus(ctx, orderID, StatusUpdate{
		Dimension:       constants.StatusDimensionPayment,
		Target:          constants.PaymentStatusPending,
		ExpectedVersion: &version,
		Actor:           actor,
		Reason:          "payment retry",
	})
	if err != nil {
		return nil, err
	}
	if err := s.orderRepo.WithTx(s.db.WithContext(ctx)).UpdateFields(order.ID, map[string]interface{}{"payment_intent_id": ""}); err != nil {
		return nil, err
	}
	order.PaymentIntentID = ""
	intent, payErr := s.startPayment(ctx, order, actor)
	result := &CheckoutResult{Order: order, Payment: intent}
	if refreshed, err := s.GetOrder(ctx, order.ID); err == nil {
		result.Order = refreshed
	}
	if payErr != nil && !errors.Is(payErr, ErrPaymentGatewayTimeout) {
		return result, payErr
	}
	result.PaymentError = payErr
	return result, nil
}

// ReconcilePayment 主动查询网关补齐支付状态，返回 nil outcome 表示仍在处理中
func (s *OrderService) ReconcilePayment(ctx context.Context, orderID uint, attempt int) (*EventOutcome, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil || order.PaymentStatus != constants.PaymentStatusPending || order.OrderStatus != constants.OrderStatusPending {
		return nil, nil
	}

	intent, err := retryIdempotentRead(ctx, 3, 200*time.Millisecond, s.opts.PaymentTimeout, func(callCtx context.Context) (*payment.Intent, error) {
		if order.PaymentIntentID == "" {
			// 未拿到意图ID时用同一幂等键重放创建
			return s.gateway.CreatePaymentIntent(callCtx, s.intentRequest(order))
		}
		return s.gateway.GetPaymentIntent(callCtx, order.PaymentIntentID)
	})
	if err != nil {
		if attempt < s.opts.ReconcileMaxAttempts {
			s.scheduleReconcile(orderID, attempt+1)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentGatewayTimeout, err)
	}
	if intent == nil {
		return nil, nil
	}
	if intent.ID != "" && order.PaymentIntentID == "" {
		if err := s.orderRepo.WithTx(s.db.WithContext(ctx)).UpdateFields(order.ID, map[string]interface{}{"payment_intent_id": intent.ID}); err != nil {
			return nil, err
		}
	}
	eventType := eventTypeForStatus(intent.Status)
	if eventType == "" {
		if attempt < s.opts.ReconcileMaxAttempts {
			s.scheduleReconcile(orderID, attempt+1)
		}
		return nil, nil
	}
	return s.HandlePaymentEvent(ctx, PaymentEventInput{
		EventID:  syntheticEventID("reconcile", intent.ID, intent.Status),
		Type:     eventType,
		IntentID: intent.ID,
		OrderID:  order.ID,
		Actor:    constants.ActorWorker,
	})
}

// ReconcilePending 批量对账仍待支付的订单
func (s *OrderService) ReconcilePending(ctx context.Context, limit int) (int, error) {
	orders, err := s.orderRepo.WithTx(s.db.WithContext(ctx)).ListPaymentPending(limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		outcome, err := s.ReconcilePayment(ctx, order.ID, s.opts.ReconcileMaxAttempts)
		if err != nil {
			s.log.Warnw("payment_reconcile_failed", "order_id", order.ID, "error", err)
			continue
		}
		if outcome != nil {
			resolved++
		}
	}
	return resolved, nil
}

// retryIdempotentRead 对幂等网关调用做有限次指数退避重试，业务拒绝不重试
func retryIdempotentRead(ctx context.Context, attempts int, base, perCall time.Duration, call func(context.Context) (*payment.Intent, error)) (*payment.Intent, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, perCall)
		intent, err := call(callCtx)
		cancel()
		if err == nil {
			return intent, nil
		}
		lastErr = err
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, payment.ErrUnavailable) {
			return nil, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func syntheticEventID(prefix, intentID, status string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, intentID, strings.ToLower(status))
}

// truncate 按字符截断，不拆分多字节字符
func truncate(value string, max int) string {
	if utf8.RuneCountInString(value) <= max {
		return value
	}
	return string([]rune(value)[:max])
}
