package repository

import (
	"errors"

	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// PromotionalCodeRepository 优惠码数据访问接口
type PromotionalCodeRepository interface {
	GetByCode(code string) (*models.PromotionalCode, error)
	Create(code *models.PromotionalCode) error
	IncrementUsage(id uint) (int64, error)
	WithTx(tx *gorm.DB) PromotionalCodeRepository
}

// GormPromotionalCodeRepository GORM 实现
type GormPromotionalCodeRepository struct {
	db *gorm.DB
}

// NewPromotionalCodeRepository 创建优惠码仓库
func NewPromotionalCodeRepository(db *gorm.DB) *GormPromotionalCodeRepository {
	return &GormPromotionalCodeRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPromotionalCodeRepository) WithTx(tx *gorm.DB) PromotionalCodeRepository {
	if tx == nil {
		return r
	}
	return &GormPromotionalCodeRepository{db: tx}
}

// GetByCode 根据优惠码获取（忽略大小写与首尾空白）
func (r *GormPromotionalCodeRepository) GetByCode(code string) (*models.PromotionalCode, error) {
	normalized := models.NormalizePromoCode(code)
	if normalized == "" {
		return nil, nil
	}
	var promo models.PromotionalCode
	if err := r.db.Where("code = ?", normalized).First(&promo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &promo, nil
}

// Create 创建优惠码
func (r *GormPromotionalCodeRepository) Create(code *models.PromotionalCode) error {
	code.Code = models.NormalizePromoCode(code.Code)
	return r.db.Create(code).Error
}

// IncrementUsage 增加使用次数，达到上限时影响行数为 0
func (r *GormPromotionalCodeRepository) IncrementUsage(id uint) (int64, error) {
	result := r.db.Model(&models.PromotionalCode{}).
		Where("id = ? AND (usage_limit = 0 OR used_count < usage_limit)", id).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
