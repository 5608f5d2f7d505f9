package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem 购物车项
type CartItem struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                         // 主键
	CartID          uint      `gorm:"not null;index" json:"cart_id"`                               // 购物车ID
	VehicleID       uint      `gorm:"not null" json:"vehicle_id"`                                  // 车型ID
	ConfigurationID uint      `gorm:"not null;default:0" json:"configuration_id"`                  // 配置ID（0 表示基础款）
	StockItemID     uint      `gorm:"not null;index" json:"stock_item_id"`                         // 库存单元ID
	Quantity        int       `gorm:"not null" json:"quantity"`                                    // 数量
	UnitPrice       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`     // 单价快照
	TotalPrice      Money     `gorm:"type:decimal(20,2);not null;default:0" json:"total_price"`    // 行小计
	ReservationID   string    `gorm:"type:varchar(40);index" json:"reservation_id"`                // 库存预占ID
	Title           string    `gorm:"type:varchar(200)" json:"title"`                              // 展示名称快照
	CreatedAt       time.Time `json:"created_at"`                                                  // 创建时间
	UpdatedAt       time.Time `json:"updated_at"`                                                  // 更新时间
}

// TableName 指定表名
func (CartItem) TableName() string {
	return "cart_items"
}

// RecalculateTotal 行小计 = 单价 × 数量
func (i *CartItem) RecalculateTotal() {
	i.TotalPrice = NewMoney(i.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(i.Quantity))))
}
