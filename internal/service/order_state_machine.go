package service

import (
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
)

// SideEffect 状态流转附带动作
type SideEffect string

const (
	SideEffectReleaseCommittedInventory SideEffect = "release_committed_inventory"
	SideEffectNotifyStatusChange        SideEffect = "notify_status_change"
)

var orderTransitions = map[string]map[string]bool{
	constants.OrderStatusPending: {
		constants.OrderStatusConfirmed: true,
		constants.OrderStatusCancelled: true,
	},
	constants.OrderStatusConfirmed: {
		constants.OrderStatusProcessing: true,
		constants.OrderStatusCancelled:  true,
	},
	constants.OrderStatusProcessing: {
		constants.OrderStatusShipped:   true,
		constants.OrderStatusCancelled: true,
	},
	constants.OrderStatusShipped: {
		constants.OrderStatusDelivered: true,
	},
}

var paymentTransitions = map[string]map[string]bool{
	constants.PaymentStatusPending: {
		constants.PaymentStatusAuthorized: true,
		constants.PaymentStatusCaptured:   true,
		constants.PaymentStatusFailed:     true,
	},
	constants.PaymentStatusAuthorized: {
		constants.PaymentStatusCaptured: true,
		constants.PaymentStatusFailed:   true,
	},
	constants.PaymentStatusCaptured: {
		constants.PaymentStatusRefunded: true,
	},
	constants.PaymentStatusFailed: {
		constants.PaymentStatusPending: true,
	},
}

var fulfillmentTransitions = map[string]map[string]bool{
	constants.FulfillmentStatusUnfulfilled: {
		constants.FulfillmentStatusPreparing: true,
	},
	constants.FulfillmentStatusPreparing: {
		constants.FulfillmentStatusShipped: true,
	},
	constants.FulfillmentStatusShipped: {
		constants.FulfillmentStatusDelivered: true,
	},
	constants.FulfillmentStatusDelivered: {
		constants.FulfillmentStatusReturned: true,
	},
}

// TransitionRequest 状态流转请求
type TransitionRequest struct {
	Dimension string
	Target    string
	Actor     string
	Reason    string
	Source    string
}

// TransitionPlan 已校验的流转计划，由 OrderService 在同一事务内执行
type TransitionPlan struct {
	Dimension   string
	Column      string
	From        string
	To          string
	Version     int
	Actor       string
	Reason      string
	Source      string
	SideEffects []SideEffect
}

// HasSideEffect 是否包含指定附带动作
func (p *TransitionPlan) HasSideEffect(effect SideEffect) bool {
	for _, item := range p.SideEffects {
		if item == effect {
			return true
		}
	}
	return false
}

// Updates 流转需要同时写入的时间字段
func (p *TransitionPlan) Updates(order *models.Order, now time.Time) map[string]interface{} {
	updates := models.AuditUpdates(p.Actor, now)
	switch p.Dimension {
	case constants.StatusDimensionOrder:
		switch p.To {
		case constants.OrderStatusCancelled:
			updates["cancelled_at"] = now
		case constants.OrderStatusShipped:
			if order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
		case constants.OrderStatusDelivered:
			if order.DeliveredAt == nil {
				updates["delivered_at"] = now
			}
		}
	case constants.StatusDimensionPayment:
		if (p.To == constants.PaymentStatusAuthorized || p.To == constants.PaymentStatusCaptured) && order.PaidAt == nil {
			updates["paid_at"] = now
		}
	}
	return updates
}

// AuditEvent 生成流转审计事件
func (p *TransitionPlan) AuditEvent(orderID uint, now time.Time) AuditEvent {
	return AuditEvent{
		EntityType: constants.AuditEntityOrder,
		EntityID:   orderEntityID(orderID),
		Dimension:  p.Dimension,
		Action:     "status_changed",
		From:       p.From,
		To:         p.To,
		Actor:      actorOrSystem(p.Actor),
		Source:     p.Source,
		Reason:     p.Reason,
		OccurredAt: now,
	}
}

// OrderStateMachine 订单三维状态机（无状态）
type OrderStateMachine struct{}

// NewOrderStateMachine 创建状态机
func NewOrderStateMachine() *OrderStateMachine {
	return &OrderStateMachine{}
}

func transitionsFor(dimension string) map[string]map[string]bool {
	switch dimension {
	case constants.StatusDimensionOrder:
		return orderTransitions
	case constants.StatusDimensionPayment:
		return paymentTransitions
	case constants.StatusDimensionFulfillment:
		return fulfillmentTransitions
	default:
		return nil
	}
}

// Plan 校验状态表与守卫并生成执行计划
func (m *OrderStateMachine) Plan(order *models.Order, req TransitionRequest) (*TransitionPlan, error) {
	dimension := strings.ToLower(strings.TrimSpace(req.Dimension))
	target := strings.ToUpper(strings.TrimSpace(req.Target))
	if order == nil {
		return nil, ErrOrderNotFound
	}
	table := transitionsFor(dimension)
	if table == nil {
		return nil, &StateTransitionError{Dimension: dimension, To: target, Reason: "unknown status dimension"}
	}
	from := order.StatusOf(dimension)
	if from == target {
		return nil, &StateTransitionError{Dimension: dimension, From: from, To: target, Reason: "already in target status"}
	}
	if !table[from][target] {
		return nil, &StateTransitionError{Dimension: dimension, From: from, To: target, Reason: "transition not allowed"}
	}
	if reason := checkGuard(order, dimension, target); reason != "" {
		return nil, &StateTransitionError{Dimension: dimension, From: from, To: target, Reason: reason}
	}

	plan := &TransitionPlan{
		Dimension: dimension,
		Column:    models.StatusColumn(dimension),
		From:      from,
		To:        target,
		Version:   order.Version,
		Actor:     actorOrSystem(req.Actor),
		Reason:    strings.TrimSpace(req.Reason),
		Source:    strings.TrimSpace(req.Source),
	}
	if dimension == constants.StatusDimensionOrder && target == constants.OrderStatusCancelled {
		plan.SideEffects = append(plan.SideEffects, SideEffectReleaseCommittedInventory)
	}
	plan.SideEffects = append(plan.SideEffects, SideEffectNotifyStatusChange)
	return plan, nil
}

// checkGuard 跨维度守卫，返回空串表示通过
func checkGuard(order *models.Order, dimension, target string) string {
	switch dimension {
	case constants.StatusDimensionOrder:
		switch target {
		case constants.OrderStatusConfirmed:
			if !statusIn(order.PaymentStatus, constants.PaymentStatusAuthorized, constants.PaymentStatusCaptured) {
				return "payment must be authorized or captured"
			}
		case constants.OrderStatusShipped:
			if !statusIn(order.FulfillmentStatus, constants.FulfillmentStatusShipped, constants.FulfillmentStatusDelivered, constants.FulfillmentStatusReturned) {
				return "fulfillment has not shipped"
			}
		case constants.OrderStatusDelivered:
			if !statusIn(order.FulfillmentStatus, constants.FulfillmentStatusDelivered, constants.FulfillmentStatusReturned) {
				return "fulfillment has not been delivered"
			}
		case constants.OrderStatusCancelled:
			if !statusIn(order.FulfillmentStatus, constants.FulfillmentStatusUnfulfilled, constants.FulfillmentStatusPreparing) {
				return "fulfillment already shipped"
			}
		}
	case constants.StatusDimensionFulfillment:
		if order.OrderStatus == constants.OrderStatusCancelled {
			return "order is cancelled"
		}
		if target == constants.FulfillmentStatusPreparing &&
			!statusIn(order.OrderStatus, constants.OrderStatusConfirmed, constants.OrderStatusProcessing) {
			return "order must be confirmed before fulfillment"
		}
	}
	return ""
}

func statusIn(value string, candidates ...string) bool {
	for _, candidate := range candidates {
		if value == candidate {
			return true
		}
	}
	return false
}
