package repository

import (
	"errors"

	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// StockItemRepository 库存单元数据访问接口
type StockItemRepository interface {
	GetByID(id uint) (*models.StockItem, error)
	GetByVehicle(vehicleID, configurationID uint) (*models.StockItem, error)
	ListByVehicle(vehicleID uint) ([]models.StockItem, error)
	Create(item *models.StockItem) error
	SetTotalStock(id uint, total int, updates map[string]interface{}) (int64, error)
	Reserve(id uint, quantity int) (int64, error)
	Unreserve(id uint, quantity int) (int64, error)
	CommitReserved(id uint, quantity int) (int64, error)
	Restock(id uint, quantity int) (int64, error)
	WithTx(tx *gorm.DB) StockItemRepository
}

// GormStockItemRepository GORM 实现
type GormStockItemRepository struct {
	db *gorm.DB
}

// NewStockItemRepository 创建库存单元仓库
func NewStockItemRepository(db *gorm.DB) *GormStockItemRepository {
	return &GormStockItemRepository{db: db}
}

// WithTx 绑定事务
func (r *GormStockItemRepository) WithTx(tx *gorm.DB) StockItemRepository {
	if tx == nil {
		return r
	}
	return &GormStockItemRepository{db: tx}
}

// GetByID 根据 ID 获取库存单元
func (r *GormStockItemRepository) GetByID(id uint) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.db.First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetByVehicle 根据车型与配置获取库存单元
func (r *GormStockItemRepository) GetByVehicle(vehicleID, configurationID uint) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.db.Where("vehicle_id = ? AND configuration_id = ?", vehicleID, configurationID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListByVehicle 获取车型下全部库存单元
func (r *GormStockItemRepository) ListByVehicle(vehicleID uint) ([]models.StockItem, error) {
	var items []models.StockItem
	if err := r.db.Where("vehicle_id = ?", vehicleID).Order("configuration_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Create 创建库存单元
func (r *GormStockItemRepository) Create(item *models.StockItem) error {
	return r.db.Create(item).Error
}

// SetTotalStock 调整总库存，不允许低于已预占与已提交之和
func (r *GormStockItemRepository) SetTotalStock(id uint, total int, updates map[string]interface{}) (int64, error) {
	if id == 0 || total < 0 {
		return 0, errors.New("invalid stock total params")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["total_stock"] = total
	result := r.db.Model(&models.StockItem{}).
		Where("id = ? AND reserved_qty + committed_qty <= ?", id, total).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Reserve 预占库存，可用量不足时影响行数为 0
func (r *GormStockItemRepository) Reserve(id uint, quantity int) (int64, error) {
	if id == 0 || quantity <= 0 {
		return 0, errors.New("invalid stock reserve params")
	}
	result := r.db.Model(&models.StockItem{}).
		Where("id = ? AND total_stock - reserved_qty - committed_qty >= ?", id, quantity).
		Update("reserved_qty", gorm.Expr("reserved_qty + ?", quantity))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Unreserve 释放预占数量
func (r *GormStockItemRepository) Unreserve(id uint, quantity int) (int64, error) {
	if id == 0 || quantity <= 0 {
		return 0, errors.New("invalid stock unreserve params")
	}
	result := r.db.Model(&models.StockItem{}).
		Where("id = ? AND reserved_qty >= ?", id, quantity).
		Update("reserved_qty", gorm.Expr("reserved_qty - ?", quantity))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CommitReserved 预占转为已提交（下单扣减）
func (r *GormStockItemRepository) CommitReserved(id uint, quantity int) (int64, error) {
	if id == 0 || quantity <= 0 {
		return 0, errors.New("invalid stock commit params")
	}
	result := r.db.Model(&models.StockItem{}).
		Where("id = ? AND reserved_qty >= ?", id, quantity).
		Updates(map[string]interface{}{
			"reserved_qty":  gorm.Expr("reserved_qty - ?", quantity),
			"committed_qty": gorm.Expr("committed_qty + ?", quantity),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Restock 取消订单后归还已提交数量
func (r *GormStockItemRepository) Restock(id uint, quantity int) (int64, error) {
	if id == 0 || quantity <= 0 {
		return 0, errors.New("invalid stock restock params")
	}
	result := r.db.Model(&models.StockItem{}).
		Where("id = ? AND committed_qty >= ?", id, quantity).
		Update("committed_qty", gorm.Expr("committed_qty - ?", quantity))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
