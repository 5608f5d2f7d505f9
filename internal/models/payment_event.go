package models

import (
	"time"
)

// PaymentEvent 已接收的支付事件，event_id 唯一用于幂等
type PaymentEvent struct {
	ID            uint      `gorm:"primarykey" json:"id"`                                // 主键
	EventID       string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"event_id"` // 网关事件ID
	OrderID       uint      `gorm:"index" json:"order_id"`                               // 订单ID
	EventType     string    `gorm:"type:varchar(64);not null" json:"event_type"`         // 事件类型
	PaymentStatus string    `gorm:"type:varchar(20)" json:"payment_status"`              // 目标支付状态
	Result        string    `gorm:"type:varchar(20);not null" json:"result"`             // 处理结果
	Detail        string    `gorm:"type:varchar(255)" json:"detail,omitempty"`           // 结果说明
	Payload       JSON      `gorm:"type:json" json:"payload,omitempty"`                  // 原始载荷
	ReceivedAt    time.Time `gorm:"index" json:"received_at"`                            // 接收时间
}

// TableName 指定表名
func (PaymentEvent) TableName() string {
	return "payment_events"
}
