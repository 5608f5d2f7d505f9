package service

import (
	"context"
	"strings"

	"github.com/motorcart-next/internal/queue"

	"go.uber.org/zap"
)

// Notifier 订单状态变更通知的下游（邮件、短信等由部署方接入）
type Notifier interface {
	NotifyStatusChange(ctx context.Context, payload queue.OrderStatusNotifyPayload) error
}

// LogNotifier 仅记录日志的默认通知实现
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogNotifier{log: log}
}

// NotifyStatusChange 实现 Notifier
func (n *LogNotifier) NotifyStatusChange(_ context.Context, payload queue.OrderStatusNotifyPayload) error {
	n.log.Infow("order_status_notify",
		"order_id", payload.OrderID,
		"order_no", payload.OrderNo,
		"dimension", payload.Dimension,
		"from", payload.From,
		"to", payload.To,
		"actor", payload.Actor,
	)
	return nil
}

// DeliverStatusNotification 队列消费入口
func (s *OrderService) DeliverStatusNotification(ctx context.Context, payload queue.OrderStatusNotifyPayload) error {
	if payload.OrderID == 0 || strings.TrimSpace(payload.To) == "" {
		return nil
	}
	return s.notifier.NotifyStatusChange(ctx, payload)
}

// notifyStatusChange 队列可用时异步投递，否则同步交给 Notifier，失败只记录日志
func (s *OrderService) notifyStatusChange(ctx context.Context, applied appliedTransition) {
	payload := queue.OrderStatusNotifyPayload{
		OrderID:   applied.orderID,
		OrderNo:   applied.orderNo,
		Dimension: applied.plan.Dimension,
		From:      applied.plan.From,
		To:        applied.plan.To,
		Actor:     applied.plan.Actor,
	}
	if s.tasks != nil && s.tasks.Enabled() {
		if err := s.tasks.EnqueueOrderStatusNotify(payload); err != nil {
			s.log.Warnw("order_status_notify_enqueue_failed", "order_id", payload.OrderID, "to", payload.To, "error", err)
		}
		return
	}
	if err := s.DeliverStatusNotification(ctx, payload); err != nil {
		s.log.Warnw("order_status_notify_failed", "order_id", payload.OrderID, "to", payload.To, "error", err)
	}
}
