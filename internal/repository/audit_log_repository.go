package repository

import (
	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// AuditLogRepository 审计日志数据访问接口
type AuditLogRepository interface {
	CreateBatch(logs []models.AuditLog) error
	ListByEntity(entityType, entityID string) ([]models.AuditLog, error)
	WithTx(tx *gorm.DB) AuditLogRepository
}

// GormAuditLogRepository GORM 实现
type GormAuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓库
func NewAuditLogRepository(db *gorm.DB) *GormAuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAuditLogRepository) WithTx(tx *gorm.DB) AuditLogRepository {
	if tx == nil {
		return r
	}
	return &GormAuditLogRepository{db: tx}
}

// CreateBatch 批量写入审计日志
func (r *GormAuditLogRepository) CreateBatch(logs []models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.Create(&logs).Error
}

// ListByEntity 按实体查询审计日志
func (r *GormAuditLogRepository) ListByEntity(entityType, entityID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	if err := r.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id asc").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
