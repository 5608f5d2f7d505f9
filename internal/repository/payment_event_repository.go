package repository

import (
	"errors"

	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEventRepository 支付事件数据访问接口
type PaymentEventRepository interface {
	CreateIfAbsent(event *models.PaymentEvent) (bool, error)
	GetByEventID(eventID string) (*models.PaymentEvent, error)
	ListByOrder(orderID uint) ([]models.PaymentEvent, error)
	WithTx(tx *gorm.DB) PaymentEventRepository
}

// GormPaymentEventRepository GORM 实现
type GormPaymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository 创建支付事件仓库
func NewPaymentEventRepository(db *gorm.DB) *GormPaymentEventRepository {
	return &GormPaymentEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentEventRepository) WithTx(tx *gorm.DB) PaymentEventRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentEventRepository{db: tx}
}

// CreateIfAbsent 写入事件，event_id 已存在时返回 false
func (r *GormPaymentEventRepository) CreateIfAbsent(event *models.PaymentEvent) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByEventID 根据网关事件 ID 获取
func (r *GormPaymentEventRepository) GetByEventID(eventID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	if err := r.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// ListByOrder 获取订单的支付事件
func (r *GormPaymentEventRepository) ListByOrder(orderID uint) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	if err := r.db.Where("order_id = ?", orderID).Order("id asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
