package models

import (
	"strings"
	"time"
)

// StampCreated 写入创建人与更新人
func StampCreated(createdBy, updatedBy *string, actor string) {
	actor = normalizeActor(actor)
	if createdBy != nil {
		*createdBy = actor
	}
	if updatedBy != nil {
		*updatedBy = actor
	}
}

// StampUpdated 写入更新人
func StampUpdated(updatedBy *string, actor string) {
	if updatedBy != nil {
		*updatedBy = normalizeActor(actor)
	}
}

// AuditUpdates 生成更新语句的审计字段
func AuditUpdates(actor string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"updated_by": normalizeActor(actor),
		"updated_at": now,
	}
}

func normalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}
