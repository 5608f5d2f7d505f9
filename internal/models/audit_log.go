package models

import (
	"time"
)

// AuditLog 状态流转与库存预占审计日志
type AuditLog struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                    // 主键
	EntityType string    `gorm:"type:varchar(32);not null;index:idx_audit_entity" json:"entity_type"` // 实体类型
	EntityID   string    `gorm:"type:varchar(64);not null;index:idx_audit_entity" json:"entity_id"`   // 实体ID
	Dimension  string    `gorm:"type:varchar(32)" json:"dimension,omitempty"`             // 状态维度
	Action     string    `gorm:"type:varchar(32);not null" json:"action"`                 // 动作
	FromValue  string    `gorm:"type:varchar(32)" json:"from_value,omitempty"`            // 原值
	ToValue    string    `gorm:"type:varchar(32)" json:"to_value,omitempty"`              // 新值
	Actor      string    `gorm:"type:varchar(64)" json:"actor"`                           // 操作人
	Source     string    `gorm:"type:varchar(128)" json:"source,omitempty"`               // 来源（事件ID等）
	Reason     string    `gorm:"type:varchar(255)" json:"reason,omitempty"`               // 原因
	Metadata   JSON      `gorm:"type:json" json:"metadata,omitempty"`                     // 附加信息
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                                 // 发生时间
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}
