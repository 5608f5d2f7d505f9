package models

import (
	"time"
)

// StockItem 库存单元（车型 + 配置）
// ReservedQty 为所有 active 预占记录的数量之和，CommittedQty 为已下单扣减的数量。
type StockItem struct {
	ID                uint      `gorm:"primarykey" json:"id"`                                                        // 主键
	VehicleID         uint      `gorm:"not null;uniqueIndex:idx_stock_vehicle_config" json:"vehicle_id"`             // 车型ID
	ConfigurationID   uint      `gorm:"not null;default:0;uniqueIndex:idx_stock_vehicle_config" json:"configuration_id"` // 配置ID（0 表示基础款）
	TotalStock        int       `gorm:"not null;default:0" json:"total_stock"`                                       // 总库存
	ReservedQty       int       `gorm:"not null;default:0" json:"reserved_qty"`                                      // 预占数量
	CommittedQty      int       `gorm:"not null;default:0" json:"committed_qty"`                                     // 已提交数量
	LowStockThreshold int       `gorm:"not null;default:0" json:"low_stock_threshold"`                               // 低库存阈值
	CreatedBy         string    `gorm:"type:varchar(64)" json:"created_by,omitempty"`                                // 创建人
	UpdatedBy         string    `gorm:"type:varchar(64)" json:"updated_by,omitempty"`                                // 更新人
	CreatedAt         time.Time `json:"created_at"`                                                                  // 创建时间
	UpdatedAt         time.Time `json:"updated_at"`                                                                  // 更新时间
}

// TableName 指定表名
func (StockItem) TableName() string {
	return "stock_items"
}

// Available 基于计数器的可售数量
func (s StockItem) Available() int {
	available := s.TotalStock - s.ReservedQty - s.CommittedQty
	if available < 0 {
		return 0
	}
	return available
}
