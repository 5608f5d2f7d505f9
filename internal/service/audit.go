package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"

	"go.uber.org/zap"
)

// AuditEvent 审计事件（订单状态流转、库存预占变化）
type AuditEvent struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Dimension  string                 `json:"dimension,omitempty"`
	Action     string                 `json:"action"`
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to,omitempty"`
	Actor      string                 `json:"actor"`
	Source     string                 `json:"source,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// AuditSink 审计事件接收方
type AuditSink interface {
	Record(ctx context.Context, events []AuditEvent) error
}

// NopAuditSink 丢弃全部事件
type NopAuditSink struct{}

// Record 实现 AuditSink
func (NopAuditSink) Record(context.Context, []AuditEvent) error { return nil }

// MultiAuditSink 依次写入多个接收方，单个失败不影响其余
type MultiAuditSink []AuditSink

// Record 实现 AuditSink
func (m MultiAuditSink) Record(ctx context.Context, events []AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DBAuditSink 写入 audit_logs 表
type DBAuditSink struct {
	repo repository.AuditLogRepository
}

// NewDBAuditSink 创建数据库审计接收方
func NewDBAuditSink(repo repository.AuditLogRepository) *DBAuditSink {
	return &DBAuditSink{repo: repo}
}

// Record 实现 AuditSink
func (s *DBAuditSink) Record(_ context.Context, events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.AuditLog, 0, len(events))
	for _, event := range events {
		rows = append(rows, models.AuditLog{
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			Dimension:  event.Dimension,
			Action:     event.Action,
			FromValue:  event.From,
			ToValue:    event.To,
			Actor:      event.Actor,
			Source:     event.Source,
			Reason:     event.Reason,
			Metadata:   models.JSON(event.Metadata),
			CreatedAt:  event.OccurredAt,
		})
	}
	return s.repo.CreateBatch(rows)
}

// emitAudit 提交后写审计，失败只记录日志
func emitAudit(ctx context.Context, sink AuditSink, log *zap.SugaredLogger, events []AuditEvent) {
	if sink == nil || len(events) == 0 {
		return
	}
	if err := sink.Record(ctx, events); err != nil && log != nil {
		log.Warnw("audit_record_failed", "events", len(events), "error", err)
	}
}

func reservationAuditEvent(reservation *models.InventoryReservation, action, from, to, actor string, now time.Time) AuditEvent {
	metadata := map[string]interface{}{
		"stock_item_id": reservation.StockItemID,
		"quantity":      reservation.Quantity,
		"holder_id":     reservation.HolderID,
	}
	if reservation.OrderID != nil {
		metadata["order_id"] = *reservation.OrderID
	}
	return AuditEvent{
		EntityType: constants.AuditEntityReservation,
		EntityID:   reservation.ID,
		Action:     action,
		From:       from,
		To:         to,
		Actor:      actorOrSystem(actor),
		Metadata:   metadata,
		OccurredAt: now,
	}
}

func orderEntityID(orderID uint) string {
	return strconv.FormatUint(uint64(orderID), 10)
}
