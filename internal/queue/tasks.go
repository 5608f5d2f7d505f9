package queue

import (
	"encoding/json"

	"github.com/motorcart-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderStatusNotify 订单状态变更通知任务
	TaskOrderStatusNotify = constants.TaskOrderStatusNotify
	// TaskOrderPaymentReconcile 支付对账任务
	TaskOrderPaymentReconcile = constants.TaskOrderPaymentReconcile
	// TaskInventorySweep 过期预占清扫任务
	TaskInventorySweep = constants.TaskInventorySweep
	// TaskCartPurge 过期购物车清理任务
	TaskCartPurge = constants.TaskCartPurge
)

// OrderStatusNotifyPayload 订单状态通知载荷
type OrderStatusNotifyPayload struct {
	OrderID   uint   `json:"order_id"`
	OrderNo   string `json:"order_no"`
	Dimension string `json:"dimension"`
	From      string `json:"from"`
	To        string `json:"to"`
	Actor     string `json:"actor"`
}

// PaymentReconcilePayload 支付对账载荷
type PaymentReconcilePayload struct {
	OrderID uint `json:"order_id"`
	Attempt int  `json:"attempt"`
}

// SweepPayload 批量清理载荷
type SweepPayload struct {
	Limit int `json:"limit"`
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}

// NewOrderStatusNotifyTask 创建订单状态通知任务
func NewOrderStatusNotifyTask(payload OrderStatusNotifyPayload) (*asynq.Task, error) {
	return newTask(TaskOrderStatusNotify, payload)
}

// NewPaymentReconcileTask 创建支付对账任务
func NewPaymentReconcileTask(payload PaymentReconcilePayload) (*asynq.Task, error) {
	return newTask(TaskOrderPaymentReconcile, payload)
}

// NewInventorySweepTask 创建预占清扫任务
func NewInventorySweepTask(payload SweepPayload) (*asynq.Task, error) {
	return newTask(TaskInventorySweep, payload)
}

// NewCartPurgeTask 创建购物车清理任务
func NewCartPurgeTask(payload SweepPayload) (*asynq.Task, error) {
	return newTask(TaskCartPurge, payload)
}
