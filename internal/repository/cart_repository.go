package repository

import (
	"errors"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepository 购物车数据访问接口
type CartRepository interface {
	GetByID(id uint) (*models.Cart, error)
	GetActiveByOwner(ownerKey string) (*models.Cart, error)
	Create(cart *models.Cart) error
	Update(id uint, updates map[string]interface{}) error
	Deactivate(id uint, status string, updates map[string]interface{}) (int64, error)
	ListExpiredActive(now time.Time, limit int) ([]models.Cart, error)
	CreateItem(item *models.CartItem) error
	UpdateItem(id uint, updates map[string]interface{}) error
	DeleteItem(id uint) error
	DeleteItemsByCart(cartID uint) error
	MoveItems(fromCartID, toCartID uint) error
	WithTx(tx *gorm.DB) CartRepository
}

// GormCartRepository GORM 实现
type GormCartRepository struct {
	db *gorm.DB
}

// NewCartRepository 创建购物车仓库
func NewCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCartRepository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &GormCartRepository{db: tx}
}

func (r *GormCartRepository) withItems(query *gorm.DB) *gorm.DB {
	return query.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id asc")
	})
}

// GetByID 根据 ID 获取购物车（含购物车项）
func (r *GormCartRepository) GetByID(id uint) (*models.Cart, error) {
	var cart models.Cart
	if err := r.withItems(r.db).First(&cart, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// GetActiveByOwner 根据归属键获取活跃购物车
func (r *GormCartRepository) GetActiveByOwner(ownerKey string) (*models.Cart, error) {
	var cart models.Cart
	if err := r.withItems(r.db).Where("active_owner = ?", ownerKey).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// Create 创建购物车（不级联写入购物车项）
func (r *GormCartRepository) Create(cart *models.Cart) error {
	return r.db.Omit(clause.Associations).Create(cart).Error
}

// Update 更新购物车字段
func (r *GormCartRepository) Update(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Cart{}).Where("id = ?", id).Updates(updates).Error
}

// Deactivate 将活跃购物车置为非活跃状态并释放归属键
func (r *GormCartRepository) Deactivate(id uint, status string, updates map[string]interface{}) (int64, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = status
	updates["active_owner"] = nil
	result := r.db.Model(&models.Cart{}).
		Where("id = ? AND status = ?", id, constants.CartStatusActive).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ListExpiredActive 获取已过期的活跃购物车
func (r *GormCartRepository) ListExpiredActive(now time.Time, limit int) ([]models.Cart, error) {
	var carts []models.Cart
	query := r.withItems(r.db).Where("status = ? AND expires_at <= ?", constants.CartStatusActive, now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("expires_at asc").Find(&carts).Error; err != nil {
		return nil, err
	}
	return carts, nil
}

// CreateItem 创建购物车项
func (r *GormCartRepository) CreateItem(item *models.CartItem) error {
	return r.db.Create(item).Error
}

// UpdateItem 更新购物车项
func (r *GormCartRepository) UpdateItem(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.CartItem{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteItem 删除购物车项
func (r *GormCartRepository) DeleteItem(id uint) error {
	return r.db.Where("id = ?", id).Delete(&models.CartItem{}).Error
}

// DeleteItemsByCart 清空购物车项
func (r *GormCartRepository) DeleteItemsByCart(cartID uint) error {
	return r.db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

// MoveItems 将购物车项整体转移到另一购物车
func (r *GormCartRepository) MoveItems(fromCartID, toCartID uint) error {
	return r.db.Model(&models.CartItem{}).Where("cart_id = ?", fromCartID).Update("cart_id", toCartID).Error
}
