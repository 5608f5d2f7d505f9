package models

import (
	"time"

	"github.com/motorcart-next/internal/constants"
)

// InventoryReservation 库存预占
type InventoryReservation struct {
	ID          string     `gorm:"primarykey;type:varchar(40)" json:"id"`                       // 预占ID（rsv_ + ULID）
	StockItemID uint       `gorm:"not null;index:idx_reservation_stock_status" json:"stock_item_id"` // 库存单元ID
	Quantity    int        `gorm:"not null" json:"quantity"`                                    // 预占数量
	HolderID    string     `gorm:"type:varchar(64);not null;index" json:"holder_id"`            // 持有方（购物车）
	Status      string     `gorm:"type:varchar(20);not null;index:idx_reservation_stock_status" json:"status"` // 状态
	OrderID     *uint      `gorm:"index" json:"order_id,omitempty"`                             // 提交后关联订单
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`                            // 过期时间
	ReleasedAt  *time.Time `json:"released_at,omitempty"`                                       // 释放时间
	CreatedAt   time.Time  `json:"created_at"`                                                  // 创建时间
	UpdatedAt   time.Time  `json:"updated_at"`                                                  // 更新时间
}

// TableName 指定表名
func (InventoryReservation) TableName() string {
	return "inventory_reservations"
}

// IsLive 是否仍为有效预占（未释放且未过期）
func (r InventoryReservation) IsLive(now time.Time) bool {
	return r.Status == constants.ReservationStatusActive && now.Before(r.ExpiresAt)
}
