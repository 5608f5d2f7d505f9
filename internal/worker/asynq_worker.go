package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/motorcart-next/internal/logger"
	"github.com/motorcart-next/internal/provider"
	"github.com/motorcart-next/internal/queue"
	"github.com/motorcart-next/internal/service"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type orderJobs interface {
	DeliverStatusNotification(ctx context.Context, payload queue.OrderStatusNotifyPayload) error
	ReconcilePayment(ctx context.Context, orderID uint, attempt int) (*service.EventOutcome, error)
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

type inventoryJobs interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

type cartJobs interface {
	PurgeExpired(ctx context.Context, limit int) (int, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	orders    orderJobs
	inventory inventoryJobs
	carts     cartJobs
	log       *zap.SugaredLogger

	sweepBatch int
	purgeBatch int
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		orders:     c.OrderService,
		inventory:  c.InventoryService,
		carts:      c.CartService,
		log:        logger.Component(c.Logger, "worker"),
		sweepBatch: c.Config.Inventory.SweepBatchSize,
		purgeBatch: c.Config.Cart.PurgeBatchSize,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		return
	}
	mux.HandleFunc(queue.TaskOrderStatusNotify, c.handleOrderStatusNotify)
	mux.HandleFunc(queue.TaskOrderPaymentReconcile, c.handlePaymentReconcile)
	mux.HandleFunc(queue.TaskInventorySweep, c.handleInventorySweep)
	mux.HandleFunc(queue.TaskCartPurge, c.handleCartPurge)
}

func (c *Consumer) handleOrderStatusNotify(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderStatusNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.log.Warnw("worker_order_status_notify_unmarshal_failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.OrderID == 0 {
		c.log.Debugw("worker_order_status_notify_skip_invalid_payload")
		return nil
	}
	if err := c.orders.DeliverStatusNotification(ctx, payload); err != nil {
		c.log.Warnw("worker_order_status_notify_failed", "order_id", payload.OrderID, "to", payload.To, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handlePaymentReconcile(ctx context.Context, task *asynq.Task) error {
	var payload queue.PaymentReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.log.Warnw("worker_payment_reconcile_unmarshal_failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.OrderID == 0 {
		return nil
	}
	outcome, err := c.orders.ReconcilePayment(ctx, payload.OrderID, payload.Attempt)
	if err != nil {
		// 网关超时已由服务层排入下一次对账
		if errors.Is(err, service.ErrPaymentGatewayTimeout) {
			c.log.Infow("worker_payment_reconcile_deferred", "order_id", payload.OrderID, "attempt", payload.Attempt)
			return nil
		}
		if errors.Is(err, service.ErrOrderNotFound) || errors.Is(err, service.ErrStateTransition) {
			c.log.Infow("worker_payment_reconcile_skipped", "order_id", payload.OrderID, "error", err)
			return nil
		}
		c.log.Warnw("worker_payment_reconcile_failed", "order_id", payload.OrderID, "attempt", payload.Attempt, "error", err)
		return err
	}
	if outcome != nil {
		c.log.Debugw("worker_payment_reconcile_done", "order_id", payload.OrderID, "attempt", payload.Attempt, "result", outcome.Result)
	}
	return nil
}

func (c *Consumer) handleInventorySweep(ctx context.Context, task *asynq.Task) error {
	limit := decodeLimit(task, c.sweepBatch)
	swept, err := c.inventory.SweepExpired(ctx, limit)
	if err != nil {
		c.log.Warnw("worker_inventory_sweep_failed", "error", err)
		return err
	}
	if swept > 0 {
		c.log.Infow("worker_inventory_sweep_done", "released", swept)
	}
	return nil
}

func (c *Consumer) handleCartPurge(ctx context.Context, task *asynq.Task) error {
	limit := decodeLimit(task, c.purgeBatch)
	purged, err := c.carts.PurgeExpired(ctx, limit)
	if err != nil {
		c.log.Warnw("worker_cart_purge_failed", "error", err)
		return err
	}
	if purged > 0 {
		c.log.Infow("worker_cart_purge_done", "expired", purged)
	}
	return nil
}

func decodeLimit(task *asynq.Task, fallback int) int {
	var payload queue.SweepPayload
	if task != nil && len(task.Payload()) > 0 {
		_ = json.Unmarshal(task.Payload(), &payload)
	}
	if payload.Limit > 0 {
		return payload.Limit
	}
	return fallback
}
