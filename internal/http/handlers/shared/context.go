package shared

import (
	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// 中间件写入的上下文键
const (
	ContextKeyUserID    = "user_id"
	ContextKeyRole      = "role"
	ContextKeyRequestID = "request_id"
	ContextKeyLogger    = "logger"
)

// GetContextUintWithKeys 从上下文读取 uint 值并统一处理错误响应。
func GetContextUintWithKeys(c *gin.Context, key, invalidKey, typeInvalidKey string) (uint, bool) {
	value, exists := c.Get(key)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "error.unauthorized", nil)
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			RespondError(c, response.CodeBadRequest, invalidKey, nil)
			return 0, false
		}
		return uint(v), true
	case float64:
		if v < 0 {
			RespondError(c, response.CodeBadRequest, invalidKey, nil)
			return 0, false
		}
		return uint(v), true
	default:
		RespondError(c, response.CodeInternal, typeInvalidKey, nil)
		return 0, false
	}
}

// OptionalUserID 读取已认证用户，不写响应
func OptionalUserID(c *gin.Context) uint {
	value, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0
	}
	if id, ok := value.(uint); ok {
		return id
	}
	return 0
}

// Actor 审计用操作者标识
func Actor(c *gin.Context) string {
	userID := OptionalUserID(c)
	if userID == 0 {
		return ""
	}
	role, _ := c.Get(ContextKeyRole)
	if r, ok := role.(string); ok && r == "admin" {
		return "admin:" + uintString(userID)
	}
	return "user:" + uintString(userID)
}
