package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// StatusUpdate 手动状态流转请求
type StatusUpdate struct {
	Dimension       string
	Target          string
	ExpectedVersion *int
	Actor           string
	Reason          string
	Source          string
}

// appliedTransition 事务内已执行的流转，提交后用于通知与指标
type appliedTransition struct {
	plan    *TransitionPlan
	orderNo string
	orderID uint
}

// UpdateStatus 按状态机规则流转指定维度，版本不一致时返回 ErrOrderConcurrentUpdate
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uint, update StatusUpdate) (*models.Order, error) {
	now := s.clock.now()
	var applied []appliedTransition
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.WithTx(tx).GetByID(orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if update.ExpectedVersion != nil && *update.ExpectedVersion != order.Version {
			return fmt.Errorf("%w: expected version %d, current %d", ErrOrderConcurrentUpdate, *update.ExpectedVersion, order.Version)
		}
		transition, transitionEvents, err := s.applyTransitionInTx(tx, order, TransitionRequest{
			Dimension: update.Dimension,
			Target:    update.Target,
			Actor:     update.Actor,
			Reason:    update.Reason,
			Source:    update.Source,
		}, now)
		if err != nil {
			return err
		}
		applied = append(applied, transition)
		events = append(events, transitionEvents...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterTransitions(ctx, applied, events)
	return s.GetOrder(ctx, orderID)
}

// CancelOrder 用户取消自己的订单
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uint, reason string) (*models.Order, error) {
	order, err := s.GetUserOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	version := order.Version
	return s.UpdateStatus(ctx, orderID, StatusUpdate{
		Dimension:       constants.StatusDimensionOrder,
		Target:          constants.OrderStatusCancelled,
		ExpectedVersion: &version,
		Actor:           fmt.Sprintf("user:%d", userID),
		Reason:          strings.TrimSpace(reason),
	})
}

// applyTransitionInTx 校验并执行单次流转（含同事务附带动作），order 原地更新
func (s *OrderService) applyTransitionInTx(tx *gorm.DB, order *models.Order, req TransitionRequest, now time.Time) (appliedTransition, []AuditEvent, error) {
	plan, err := s.stateMachine.Plan(order, req)
	if err != nil {
		return appliedTransition{}, nil, err
	}
	updates := plan.Updates(order, now)
	rows, err := s.orderRepo.WithTx(tx).TransitionStatus(order.ID, plan.Column, plan.From, plan.To, plan.Version, updates)
	if err != nil {
		return appliedTransition{}, nil, err
	}
	if rows == 0 {
		return appliedTransition{}, nil, fmt.Errorf("%w: order %d %s is no longer %s at version %d", ErrOrderConcurrentUpdate, order.ID, plan.Dimension, plan.From, plan.Version)
	}
	order.SetStatus(plan.Dimension, plan.To)
	order.Version++
	applyTimestampUpdates(order, updates)

	events := []AuditEvent{plan.AuditEvent(order.ID, now)}
	if plan.HasSideEffect(SideEffectReleaseCommittedInventory) {
		restocked, err := s.restockOrderInTx(tx, order, now)
		if err != nil {
			return appliedTransition{}, nil, err
		}
		events = append(events, restocked...)
	}
	return appliedTransition{plan: plan, orderNo: order.OrderNo, orderID: order.ID}, events, nil
}

func applyTimestampUpdates(order *models.Order, updates map[string]interface{}) {
	for key, value := range updates {
		at, ok := value.(time.Time)
		if !ok {
			continue
		}
		switch key {
		case "paid_at":
			order.PaidAt = &at
		case "shipped_at":
			order.ShippedAt = &at
		case "delivered_at":
			order.DeliveredAt = &at
		case "cancelled_at":
			order.CancelledAt = &at
		case "updated_at":
			order.UpdatedAt = at
		}
	}
	if actor, ok := updates["updated_by"].(string); ok {
		order.UpdatedBy = actor
	}
}

// restockOrderInTx 归还订单全部已提交库存
func (s *OrderService) restockOrderInTx(tx *gorm.DB, order *models.Order, now time.Time) ([]AuditEvent, error) {
	items := order.Items
	if len(items) == 0 {
		loaded, err := s.orderRepo.WithTx(tx).GetByID(order.ID)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			items = loaded.Items
		}
	}
	var events []AuditEvent
	for _, item := range items {
		restocked, err := s.inventory.restockInTx(tx, StockDecrement{
			ReservationID: item.ReservationID,
			StockItemID:   item.StockItemID,
			Quantity:      item.Quantity,
			OrderID:       order.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		events = append(events, restocked...)
	}
	return events, nil
}

// afterTransitions 提交后写审计、记指标并投递通知
func (s *OrderService) afterTransitions(ctx context.Context, applied []appliedTransition, events []AuditEvent) {
	emitAudit(ctx, s.audit, s.log, events)
	for _, item := range applied {
		s.metrics.ObserveTransition(item.plan.Dimension, item.plan.To)
		s.log.Infow("order_status_changed",
			"order_id", item.orderID,
			"dimension", item.plan.Dimension,
			"from", item.plan.From,
			"to", item.plan.To,
			"actor", item.plan.Actor,
		)
		if item.plan.HasSideEffect(SideEffectNotifyStatusChange) {
			s.notifyStatusChange(ctx, item)
		}
	}
}

func isStateError(err error) bool {
	return errors.Is(err, ErrStateTransition)
}
