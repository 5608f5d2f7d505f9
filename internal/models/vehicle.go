package models

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Vehicle 车型
type Vehicle struct {
	ID        uint           `gorm:"primarykey" json:"id"`                                     // 主键
	DealerID  *uint          `gorm:"index" json:"dealer_id,omitempty"`                         // 经销商ID
	Make      string         `gorm:"type:varchar(80);not null;index" json:"make"`              // 品牌
	Model     string         `gorm:"type:varchar(80);not null" json:"model"`                   // 车型
	Year      int            `gorm:"not null" json:"year"`                                     // 年款
	Trim      string         `gorm:"type:varchar(80)" json:"trim"`                             // 配置级别
	BasePrice Money          `gorm:"type:decimal(20,2);not null;default:0" json:"base_price"`  // 基础价格
	Currency  string         `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`   // 币种
	IsActive  bool           `gorm:"not null;default:true;index" json:"is_active"`             // 是否上架
	CreatedBy string         `gorm:"type:varchar(64)" json:"created_by,omitempty"`             // 创建人
	UpdatedBy string         `gorm:"type:varchar(64)" json:"updated_by,omitempty"`             // 更新人
	CreatedAt time.Time      `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt time.Time      `json:"updated_at"`                                               // 更新时间
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`                                           // 软删除时间
}

// TableName 指定表名
func (Vehicle) TableName() string {
	return "vehicles"
}

// Title 展示名称
func (v Vehicle) Title() string {
	parts := make([]string, 0, 4)
	if v.Year > 0 {
		parts = append(parts, strconv.Itoa(v.Year))
	}
	for _, p := range []string{v.Make, v.Model, v.Trim} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// VehicleConfiguration 车型选装配置
type VehicleConfiguration struct {
	ID         uint           `gorm:"primarykey" json:"id"`                                     // 主键
	VehicleID  uint           `gorm:"not null;index" json:"vehicle_id"`                         // 车型ID
	Name       string         `gorm:"type:varchar(120);not null" json:"name"`                   // 配置名称
	Options    JSON           `gorm:"type:json" json:"options"`                                 // 选装项
	PriceDelta Money          `gorm:"type:decimal(20,2);not null;default:0" json:"price_delta"` // 加价
	IsActive   bool           `gorm:"not null;default:true" json:"is_active"`                   // 是否可选
	CreatedAt  time.Time      `json:"created_at"`                                               // 创建时间
	UpdatedAt  time.Time      `json:"updated_at"`                                               // 更新时间
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`                                           // 软删除时间
}

// TableName 指定表名
func (VehicleConfiguration) TableName() string {
	return "vehicle_configurations"
}
