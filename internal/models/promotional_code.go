package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// PromotionalCode 优惠码
type PromotionalCode struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                       // 主键
	Code        string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`         // 优惠码（统一大写）
	RuleType    string         `gorm:"type:varchar(32);not null" json:"rule_type"`                // 规则类型 percentage/flat
	Value       Money          `gorm:"type:decimal(20,2);not null;default:0" json:"value"`        // 折扣值（百分比或金额）
	MinSubtotal Money          `gorm:"type:decimal(20,2);not null;default:0" json:"min_subtotal"` // 最低小计
	MaxDiscount *Money         `gorm:"type:decimal(20,2)" json:"max_discount,omitempty"`          // 折扣封顶
	VehicleIDs  UintArray      `gorm:"type:json" json:"vehicle_ids"`                              // 适用车型（空为全部）
	StartsAt    *time.Time     `json:"starts_at,omitempty"`                                       // 生效时间
	EndsAt      *time.Time     `json:"ends_at,omitempty"`                                         // 失效时间
	UsageLimit  int            `gorm:"not null;default:0" json:"usage_limit"`                     // 使用上限（0 不限）
	UsedCount   int            `gorm:"not null;default:0" json:"used_count"`                      // 已使用次数
	IsActive    bool           `gorm:"not null;default:true" json:"is_active"`                    // 是否启用
	CreatedBy   string         `gorm:"type:varchar(64)" json:"created_by,omitempty"`              // 创建人
	UpdatedBy   string         `gorm:"type:varchar(64)" json:"updated_by,omitempty"`              // 更新人
	CreatedAt   time.Time      `json:"created_at"`                                                // 创建时间
	UpdatedAt   time.Time      `json:"updated_at"`                                                // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                            // 软删除时间
}

// TableName 指定表名
func (PromotionalCode) TableName() string {
	return "promotional_codes"
}

// NormalizePromoCode 优惠码统一格式
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
