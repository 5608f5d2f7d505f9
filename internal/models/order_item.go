package models

import (
	"time"
)

// OrderItem 订单项（创建后不可变）
type OrderItem struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                          // 主键
	OrderID         uint      `gorm:"index;not null" json:"order_id"`                               // 订单ID
	VehicleID       uint      `gorm:"not null" json:"vehicle_id"`                                   // 车型ID
	ConfigurationID uint      `gorm:"not null;default:0" json:"configuration_id"`                   // 配置ID
	StockItemID     uint      `gorm:"not null;index" json:"stock_item_id"`                          // 库存单元ID
	ReservationID   string    `gorm:"type:varchar(40)" json:"reservation_id"`                       // 来源预占ID
	Title           string    `gorm:"type:varchar(200)" json:"title"`                               // 名称快照
	Quantity        int       `gorm:"not null" json:"quantity"`                                     // 数量
	UnitPrice       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`      // 单价
	DiscountAmount  Money     `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"` // 分摊优惠
	TaxAmount       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"tax_amount"`      // 分摊税额
	TotalPrice      Money     `gorm:"type:decimal(20,2);not null;default:0" json:"total_price"`     // 行合计
	CreatedAt       time.Time `json:"created_at"`                                                   // 创建时间
}

// TableName 指定表名
func (OrderItem) TableName() string {
	return "order_items"
}
