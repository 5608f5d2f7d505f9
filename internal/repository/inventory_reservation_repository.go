package repository

import (
	"errors"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// InventoryReservationRepository 库存预占数据访问接口
type InventoryReservationRepository interface {
	Create(reservation *models.InventoryReservation) error
	GetByID(id string) (*models.InventoryReservation, error)
	ListByHolder(holderID string, status string) ([]models.InventoryReservation, error)
	ListByOrder(orderID uint) ([]models.InventoryReservation, error)
	ListExpiredActive(stockItemID uint, now time.Time, limit int) ([]models.InventoryReservation, error)
	SumLive(stockItemID uint, now time.Time) (int, error)
	TransitionStatus(id, from, to string, updates map[string]interface{}) (int64, error)
	TransitionLive(id, to string, now time.Time, updates map[string]interface{}) (int64, error)
	Extend(id string, now, expiresAt time.Time) (int64, error)
	UpdateLiveQuantity(id string, quantity int, now, expiresAt time.Time) (int64, error)
	UpdateHolder(id, fromHolder, toHolder string) (int64, error)
	WithTx(tx *gorm.DB) InventoryReservationRepository
}

// GormInventoryReservationRepository GORM 实现
type GormInventoryReservationRepository struct {
	db *gorm.DB
}

// NewInventoryReservationRepository 创建预占仓库
func NewInventoryReservationRepository(db *gorm.DB) *GormInventoryReservationRepository {
	return &GormInventoryReservationRepository{db: db}
}

// WithTx 绑定事务
func (r *GormInventoryReservationRepository) WithTx(tx *gorm.DB) InventoryReservationRepository {
	if tx == nil {
		return r
	}
	return &GormInventoryReservationRepository{db: tx}
}

// Create 创建预占记录
func (r *GormInventoryReservationRepository) Create(reservation *models.InventoryReservation) error {
	return r.db.Create(reservation).Error
}

// GetByID 根据 ID 获取预占
func (r *GormInventoryReservationRepository) GetByID(id string) (*models.InventoryReservation, error) {
	if id == "" {
		return nil, nil
	}
	var reservation models.InventoryReservation
	if err := r.db.Where("id = ?", id).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

// ListByHolder 获取持有方的预占，status 为空时不过滤
func (r *GormInventoryReservationRepository) ListByHolder(holderID string, status string) ([]models.InventoryReservation, error) {
	var reservations []models.InventoryReservation
	query := r.db.Where("holder_id = ?", holderID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("created_at asc").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListByOrder 获取订单关联的预占
func (r *GormInventoryReservationRepository) ListByOrder(orderID uint) ([]models.InventoryReservation, error) {
	var reservations []models.InventoryReservation
	if err := r.db.Where("order_id = ?", orderID).Order("created_at asc").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListExpiredActive 获取已过期但仍为 active 的预占，stockItemID 为 0 时不限库存单元
func (r *GormInventoryReservationRepository) ListExpiredActive(stockItemID uint, now time.Time, limit int) ([]models.InventoryReservation, error) {
	var reservations []models.InventoryReservation
	query := r.db.Where("status = ? AND expires_at <= ?", constants.ReservationStatusActive, now)
	if stockItemID != 0 {
		query = query.Where("stock_item_id = ?", stockItemID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("expires_at asc").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

// SumLive 统计库存单元的有效预占数量
func (r *GormInventoryReservationRepository) SumLive(stockItemID uint, now time.Time) (int, error) {
	var total int64
	if err := r.db.Model(&models.InventoryReservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("stock_item_id = ? AND status = ? AND expires_at > ?", stockItemID, constants.ReservationStatusActive, now).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// TransitionStatus 条件更新预占状态，仅当当前状态为 from 时生效
func (r *GormInventoryReservationRepository) TransitionStatus(id, from, to string, updates map[string]interface{}) (int64, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	result := r.db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// TransitionLive 仅当预占仍有效（active 且未过期）时更新状态
func (r *GormInventoryReservationRepository) TransitionLive(id, to string, now time.Time, updates map[string]interface{}) (int64, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	result := r.db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, constants.ReservationStatusActive, now).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Extend 延长有效预占的过期时间
func (r *GormInventoryReservationRepository) Extend(id string, now, expiresAt time.Time) (int64, error) {
	result := r.db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, constants.ReservationStatusActive, now).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UpdateLiveQuantity 调整有效预占的数量并刷新过期时间
func (r *GormInventoryReservationRepository) UpdateLiveQuantity(id string, quantity int, now, expiresAt time.Time) (int64, error) {
	if quantity <= 0 {
		return 0, errors.New("invalid reservation quantity")
	}
	result := r.db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, constants.ReservationStatusActive, now).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"expires_at": expiresAt,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UpdateHolder 转移预占持有方
func (r *GormInventoryReservationRepository) UpdateHolder(id, fromHolder, toHolder string) (int64, error) {
	result := r.db.Model(&models.InventoryReservation{}).
		Where("id = ? AND holder_id = ? AND status = ?", id, fromHolder, constants.ReservationStatusActive).
		Update("holder_id", toHolder)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
