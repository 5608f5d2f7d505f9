package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/metrics"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reservationIDPrefix = "rsv_"

// InventoryOptions 库存预占参数
type InventoryOptions struct {
	ReservationTTL           time.Duration
	SweepBatchSize           int
	DefaultLowStockThreshold int
}

// StockDecrement 预占提交后形成的永久扣减
type StockDecrement struct {
	ReservationID string `json:"reservation_id"`
	StockItemID   uint   `json:"stock_item_id"`
	Quantity      int    `json:"quantity"`
	OrderID       uint   `json:"order_id"`
}

// Availability 库存单元可售情况
type Availability struct {
	StockItemID  uint `json:"stock_item_id"`
	VehicleID    uint `json:"vehicle_id"`
	TotalStock   int  `json:"total_stock"`
	Committed    int  `json:"committed"`
	ReservedLive int  `json:"reserved"`
	Available    int  `json:"available"`
	LowStock     bool `json:"low_stock"`
	Threshold    int  `json:"low_stock_threshold"`
}

// InventoryService 库存预占服务
type InventoryService struct {
	db              *gorm.DB
	stockRepo       repository.StockItemRepository
	reservationRepo repository.InventoryReservationRepository
	audit           AuditSink
	metrics         *metrics.Metrics
	log             *zap.SugaredLogger
	clock           Clock
	opts            InventoryOptions
}

// NewInventoryService 创建库存预占服务
func NewInventoryService(db *gorm.DB, stockRepo repository.StockItemRepository, reservationRepo repository.InventoryReservationRepository, audit AuditSink, m *metrics.Metrics, log *zap.SugaredLogger, clock Clock, opts InventoryOptions) *InventoryService {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 20 * time.Minute
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 200
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &InventoryService{
		db:              db,
		stockRepo:       stockRepo,
		reservationRepo: reservationRepo,
		audit:           audit,
		metrics:         m,
		log:             log,
		clock:           clock,
		opts:            opts,
	}
}

// ReservationTTL 默认预占时长
func (s *InventoryService) ReservationTTL() time.Duration {
	return s.opts.ReservationTTL
}

func newReservationID(now time.Time) string {
	return reservationIDPrefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// Reserve 为持有方预占库存
func (s *InventoryService) Reserve(ctx context.Context, stockItemID uint, quantity int, holderID string) (*models.InventoryReservation, error) {
	now := s.clock.now()
	var reservation *models.InventoryReservation
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		reservation, events, err = s.reserveInTx(tx, stockItemID, quantity, holderID, s.opts.ReservationTTL, now)
		return err
	})
	if err != nil {
		s.metrics.ObserveReservation("reserve", resultLabel(err))
		return nil, err
	}
	s.metrics.ObserveReservation("reserve", "ok")
	emitAudit(ctx, s.audit, s.log, events)
	return reservation, nil
}

func (s *InventoryService) reserveInTx(tx *gorm.DB, stockItemID uint, quantity int, holderID string, ttl time.Duration, now time.Time) (*models.InventoryReservation, []AuditEvent, error) {
	holderID = strings.TrimSpace(holderID)
	if stockItemID == 0 || quantity <= 0 || holderID == "" {
		return nil, nil, ErrInventoryInputInvalid
	}
	stockRepo := s.stockRepo.WithTx(tx)
	item, err := stockRepo.GetByID(stockItemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, ErrStockItemNotFound
	}

	// 先回收该库存单元下已过期未清扫的预占，计数器只保留有效预占
	events, _, err := s.reclaimExpiredInTx(tx, stockItemID, now, 0)
	if err != nil {
		return nil, nil, err
	}

	rows, err := stockRepo.Reserve(stockItemID, quantity)
	if err != nil {
		return nil, nil, err
	}
	if rows == 0 {
		available := 0
		if current, err := stockRepo.GetByID(stockItemID); err == nil && current != nil {
			available = current.Available()
		}
		return nil, nil, &InsufficientInventoryError{StockItemID: stockItemID, Requested: quantity, Available: available}
	}

	reservation := &models.InventoryReservation{
		ID:          newReservationID(now),
		StockItemID: stockItemID,
		Quantity:    quantity,
		HolderID:    holderID,
		Status:      constants.ReservationStatusActive,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.reservationRepo.WithTx(tx).Create(reservation); err != nil {
		return nil, nil, err
	}
	events = append(events, reservationAuditEvent(reservation, "reserved", "", constants.ReservationStatusActive, holderID, now))
	return reservation, events, nil
}

// Release 释放预占，重复调用为空操作
func (s *InventoryService) Release(ctx context.Context, reservationID string) error {
	now := s.clock.now()
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		events, err = s.releaseInTx(tx, reservationID, now)
		return err
	})
	if err != nil {
		s.metrics.ObserveReservation("release", "error")
		return err
	}
	s.metrics.ObserveReservation("release", "ok")
	emitAudit(ctx, s.audit, s.log, events)
	return nil
}

func (s *InventoryService) releaseInTx(tx *gorm.DB, reservationID string, now time.Time) ([]AuditEvent, error) {
	reservationRepo := s.reservationRepo.WithTx(tx)
	reservation, err := reservationRepo.GetByID(reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil || reservation.Status != constants.ReservationStatusActive {
		return nil, nil
	}
	rows, err := reservationRepo.TransitionStatus(reservation.ID, constants.ReservationStatusActive, constants.ReservationStatusReleased, map[string]interface{}{
		"released_at": now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, nil
	}
	if err := s.returnReservedUnits(tx, reservation); err != nil {
		return nil, err
	}
	return []AuditEvent{reservationAuditEvent(reservation, "released", constants.ReservationStatusActive, constants.ReservationStatusReleased, reservation.HolderID, now)}, nil
}

// releaseHolderInTx 释放持有方名下剩余的 active 预占
func (s *InventoryService) releaseHolderInTx(tx *gorm.DB, holderID string, now time.Time) ([]AuditEvent, error) {
	held, err := s.reservationRepo.WithTx(tx).ListByHolder(holderID, constants.ReservationStatusActive)
	if err != nil {
		return nil, err
	}
	var events []AuditEvent
	for _, reservation := range held {
		released, err := s.releaseInTx(tx, reservation.ID, now)
		if err != nil {
			return nil, err
		}
		events = append(events, released...)
	}
	return events, nil
}

func (s *InventoryService) returnReservedUnits(tx *gorm.DB, reservation *models.InventoryReservation) error {
	rows, err := s.stockRepo.WithTx(tx).Unreserve(reservation.StockItemID, reservation.Quantity)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: reserved counter underflow for stock item %d", ErrOrderProcessing, reservation.StockItemID)
	}
	return nil
}

// Extend 在当前过期时间基础上延长预占
func (s *InventoryService) Extend(ctx context.Context, reservationID string, additional time.Duration) (*models.InventoryReservation, error) {
	if additional <= 0 {
		return nil, ErrInventoryInputInvalid
	}
	now := s.clock.now()
	var reservation *models.InventoryReservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservationRepo := s.reservationRepo.WithTx(tx)
		current, err := reservationRepo.GetByID(reservationID)
		if err != nil {
			return err
		}
		if current == nil || !current.IsLive(now) {
			return ErrReservationNotFound
		}
		expiresAt := current.ExpiresAt.Add(additional)
		rows, err := reservationRepo.Extend(current.ID, now, expiresAt)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrReservationNotFound
		}
		current.ExpiresAt = expiresAt
		current.UpdatedAt = now
		reservation = current
		return nil
	})
	if err != nil {
		s.metrics.ObserveReservation("extend", resultLabel(err))
		return nil, err
	}
	s.metrics.ObserveReservation("extend", "ok")
	emitAudit(ctx, s.audit, s.log, []AuditEvent{reservationAuditEvent(reservation, "extended", constants.ReservationStatusActive, constants.ReservationStatusActive, reservation.HolderID, now)})
	return reservation, nil
}

// refreshInTx 将有效预占的过期时间推到 expiresAt（仅延后不提前）
func (s *InventoryService) refreshInTx(tx *gorm.DB, reservationID string, expiresAt, now time.Time) (bool, error) {
	reservationRepo := s.reservationRepo.WithTx(tx)
	current, err := reservationRepo.GetByID(reservationID)
	if err != nil {
		return false, err
	}
	if current == nil || !current.IsLive(now) {
		return false, nil
	}
	if !expiresAt.After(current.ExpiresAt) {
		return true, nil
	}
	rows, err := reservationRepo.Extend(current.ID, now, expiresAt)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// liveReservationInTx 查询有效预占，失效或不存在时返回 nil
func (s *InventoryService) liveReservationInTx(tx *gorm.DB, reservationID string, now time.Time) (*models.InventoryReservation, error) {
	if strings.TrimSpace(reservationID) == "" {
		return nil, nil
	}
	reservation, err := s.reservationRepo.WithTx(tx).GetByID(reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil || !reservation.IsLive(now) {
		return nil, nil
	}
	return reservation, nil
}

// availableInTx 当前可售数量（用于错误明细）
func (s *InventoryService) availableInTx(tx *gorm.DB, stockItemID uint) int {
	item, err := s.stockRepo.WithTx(tx).GetByID(stockItemID)
	if err != nil || item == nil {
		return 0
	}
	return item.Available()
}

// Commit 预占转为订单永久扣减
func (s *InventoryService) Commit(ctx context.Context, reservationID string, orderID uint) (StockDecrement, error) {
	now := s.clock.now()
	var decrement StockDecrement
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		decrement, events, err = s.commitInTx(tx, reservationID, orderID, now)
		return err
	})
	if err != nil {
		s.metrics.ObserveReservation("commit", resultLabel(err))
		return StockDecrement{}, err
	}
	s.metrics.ObserveReservation("commit", "ok")
	emitAudit(ctx, s.audit, s.log, events)
	return decrement, nil
}

func (s *InventoryService) commitInTx(tx *gorm.DB, reservationID string, orderID uint, now time.Time) (StockDecrement, []AuditEvent, error) {
	reservationRepo := s.reservationRepo.WithTx(tx)
	reservation, err := reservationRepo.GetByID(reservationID)
	if err != nil {
		return StockDecrement{}, nil, err
	}
	if reservation == nil || !reservation.IsLive(now) {
		return StockDecrement{}, nil, ErrReservationNotFound
	}
	updates := map[string]interface{}{"updated_at": now}
	if orderID != 0 {
		updates["order_id"] = orderID
	}
	rows, err := reservationRepo.TransitionLive(reservation.ID, constants.ReservationStatusCommitted, now, updates)
	if err != nil {
		return StockDecrement{}, nil, err
	}
	if rows == 0 {
		return StockDecrement{}, nil, ErrReservationNotFound
	}
	moved, err := s.stockRepo.WithTx(tx).CommitReserved(reservation.StockItemID, reservation.Quantity)
	if err != nil {
		return StockDecrement{}, nil, err
	}
	if moved == 0 {
		return StockDecrement{}, nil, fmt.Errorf("%w: reserved counter underflow for stock item %d", ErrOrderProcessing, reservation.StockItemID)
	}
	if orderID != 0 {
		reservation.OrderID = &orderID
	}
	decrement := StockDecrement{
		ReservationID: reservation.ID,
		StockItemID:   reservation.StockItemID,
		Quantity:      reservation.Quantity,
		OrderID:       orderID,
	}
	return decrement, []AuditEvent{reservationAuditEvent(reservation, "committed", constants.ReservationStatusActive, constants.ReservationStatusCommitted, reservation.HolderID, now)}, nil
}

// Restock 归还已提交的扣减（订单取消）
func (s *InventoryService) Restock(ctx context.Context, decrement StockDecrement) error {
	now := s.clock.now()
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		events, err = s.restockInTx(tx, decrement, now)
		return err
	})
	if err != nil {
		return err
	}
	emitAudit(ctx, s.audit, s.log, events)
	return nil
}

func (s *InventoryService) restockInTx(tx *gorm.DB, decrement StockDecrement, now time.Time) ([]AuditEvent, error) {
	if decrement.StockItemID == 0 || decrement.Quantity <= 0 {
		return nil, ErrInventoryInputInvalid
	}
	reservationRepo := s.reservationRepo.WithTx(tx)
	var reservation *models.InventoryReservation
	if decrement.ReservationID != "" {
		rows, err := reservationRepo.TransitionStatus(decrement.ReservationID, constants.ReservationStatusCommitted, constants.ReservationStatusRestocked, map[string]interface{}{
			"released_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			// 已归还过
			return nil, nil
		}
		reservation, err = reservationRepo.GetByID(decrement.ReservationID)
		if err != nil {
			return nil, err
		}
	}
	rows, err := s.stockRepo.WithTx(tx).Restock(decrement.StockItemID, decrement.Quantity)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: committed counter underflow for stock item %d", ErrOrderProcessing, decrement.StockItemID)
	}
	if reservation == nil {
		return nil, nil
	}
	return []AuditEvent{reservationAuditEvent(reservation, "restocked", constants.ReservationStatusCommitted, constants.ReservationStatusRestocked, constants.ActorSystem, now)}, nil
}

// Resize 调整预占数量，库存不足时保持原状
func (s *InventoryService) Resize(ctx context.Context, reservationID string, quantity int) (*models.InventoryReservation, error) {
	now := s.clock.now()
	var reservation *models.InventoryReservation
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		reservation, events, err = s.resizeInTx(tx, reservationID, quantity, now.Add(s.opts.ReservationTTL), now)
		return err
	})
	if err != nil {
		s.metrics.ObserveReservation("resize", resultLabel(err))
		return nil, err
	}
	s.metrics.ObserveReservation("resize", "ok")
	emitAudit(ctx, s.audit, s.log, events)
	return reservation, nil
}

func (s *InventoryService) resizeInTx(tx *gorm.DB, reservationID string, quantity int, expiresAt, now time.Time) (*models.InventoryReservation, []AuditEvent, error) {
	if quantity <= 0 {
		return nil, nil, ErrInventoryInputInvalid
	}
	reservationRepo := s.reservationRepo.WithTx(tx)
	stockRepo := s.stockRepo.WithTx(tx)
	reservation, err := reservationRepo.GetByID(reservationID)
	if err != nil {
		return nil, nil, err
	}
	if reservation == nil || !reservation.IsLive(now) {
		return nil, nil, ErrReservationNotFound
	}
	if expiresAt.Before(reservation.ExpiresAt) {
		expiresAt = reservation.ExpiresAt
	}
	delta := quantity - reservation.Quantity
	var events []AuditEvent
	switch {
	case delta > 0:
		reclaimed, _, err := s.reclaimExpiredInTx(tx, reservation.StockItemID, now, 0)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, reclaimed...)
		rows, err := stockRepo.Reserve(reservation.StockItemID, delta)
		if err != nil {
			return nil, nil, err
		}
		if rows == 0 {
			available := 0
			if current, err := stockRepo.GetByID(reservation.StockItemID); err == nil && current != nil {
				available = current.Available()
			}
			return nil, nil, &InsufficientInventoryError{StockItemID: reservation.StockItemID, Requested: delta, Available: available}
		}
	case delta < 0:
		rows, err := stockRepo.Unreserve(reservation.StockItemID, -delta)
		if err != nil {
			return nil, nil, err
		}
		if rows == 0 {
			return nil, nil, fmt.Errorf("%w: reserved counter underflow for stock item %d", ErrOrderProcessing, reservation.StockItemID)
		}
	}
	rows, err := reservationRepo.UpdateLiveQuantity(reservation.ID, quantity, now, expiresAt)
	if err != nil {
		return nil, nil, err
	}
	if rows == 0 {
		return nil, nil, ErrReservationNotFound
	}
	previous := reservation.Quantity
	reservation.Quantity = quantity
	reservation.ExpiresAt = expiresAt
	reservation.UpdatedAt = now
	event := reservationAuditEvent(reservation, "resized", constants.ReservationStatusActive, constants.ReservationStatusActive, reservation.HolderID, now)
	event.Metadata["previous_quantity"] = previous
	events = append(events, event)
	return reservation, events, nil
}

// transferHolderInTx 购物车合并时转移有效预占的持有方
func (s *InventoryService) transferHolderInTx(tx *gorm.DB, reservationID, fromHolder, toHolder string, now time.Time) (bool, error) {
	reservation, err := s.reservationRepo.WithTx(tx).GetByID(reservationID)
	if err != nil {
		return false, err
	}
	if reservation == nil || !reservation.IsLive(now) {
		return false, nil
	}
	rows, err := s.reservationRepo.WithTx(tx).UpdateHolder(reservationID, fromHolder, toHolder)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetReservation 查询预占
func (s *InventoryService) GetReservation(ctx context.Context, reservationID string) (*models.InventoryReservation, error) {
	reservation, err := s.reservationRepo.WithTx(s.db.WithContext(ctx)).GetByID(reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ErrReservationNotFound
	}
	return reservation, nil
}

// Availability 读取可售数量，过期未清扫的预占不计入
func (s *InventoryService) Availability(ctx context.Context, stockItemID uint) (*Availability, error) {
	now := s.clock.now()
	db := s.db.WithContext(ctx)
	item, err := s.stockRepo.WithTx(db).GetByID(stockItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrStockItemNotFound
	}
	live, err := s.reservationRepo.WithTx(db).SumLive(stockItemID, now)
	if err != nil {
		return nil, err
	}
	available := item.TotalStock - item.CommittedQty - live
	if available < 0 {
		available = 0
	}
	threshold := item.LowStockThreshold
	if threshold <= 0 {
		threshold = s.opts.DefaultLowStockThreshold
	}
	return &Availability{
		StockItemID:  item.ID,
		VehicleID:    item.VehicleID,
		TotalStock:   item.TotalStock,
		Committed:    item.CommittedQty,
		ReservedLive: live,
		Available:    available,
		LowStock:     threshold > 0 && available <= threshold,
		Threshold:    threshold,
	}, nil
}

// SetTotalStock 管理端调整总库存
func (s *InventoryService) SetTotalStock(ctx context.Context, stockItemID uint, total int, actor string) (*Availability, error) {
	if total < 0 {
		return nil, ErrInventoryInputInvalid
	}
	now := s.clock.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stockRepo := s.stockRepo.WithTx(tx)
		item, err := stockRepo.GetByID(stockItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrStockItemNotFound
		}
		if _, _, err := s.reclaimExpiredInTx(tx, stockItemID, now, 0); err != nil {
			return err
		}
		rows, err := stockRepo.SetTotalStock(stockItemID, total, models.AuditUpdates(actor, now))
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrStockTotalBelowHeld
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("stock_total_updated", "stock_item_id", stockItemID, "total_stock", total, "actor", actorOrSystem(actor))
	return s.Availability(ctx, stockItemID)
}

// SweepExpired 批量回收过期预占，返回回收条数
func (s *InventoryService) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.opts.SweepBatchSize
	}
	now := s.clock.now()
	var events []AuditEvent
	var reclaimed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		events, reclaimed, err = s.reclaimExpiredInTx(tx, 0, now, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddExpired(reclaimed)
	emitAudit(ctx, s.audit, s.log, events)
	return reclaimed, nil
}

// reclaimExpiredInTx 回收过期预占，状态条件更新保证并发清扫不会重复归还
func (s *InventoryService) reclaimExpiredInTx(tx *gorm.DB, stockItemID uint, now time.Time, limit int) ([]AuditEvent, int, error) {
	reservationRepo := s.reservationRepo.WithTx(tx)
	expired, err := reservationRepo.ListExpiredActive(stockItemID, now, limit)
	if err != nil {
		return nil, 0, err
	}
	events := make([]AuditEvent, 0, len(expired))
	for i := range expired {
		reservation := &expired[i]
		rows, err := reservationRepo.TransitionStatus(reservation.ID, constants.ReservationStatusActive, constants.ReservationStatusExpired, map[string]interface{}{
			"released_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return nil, 0, err
		}
		if rows == 0 {
			continue
		}
		if err := s.returnReservedUnits(tx, reservation); err != nil {
			return nil, 0, err
		}
		events = append(events, reservationAuditEvent(reservation, "expired", constants.ReservationStatusActive, constants.ReservationStatusExpired, constants.ActorWorker, now))
	}
	return events, len(events), nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, ErrReservationNotFound):
		return "not_found"
	default:
		return "error"
	}
}
