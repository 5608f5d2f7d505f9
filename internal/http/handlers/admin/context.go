package admin

import (
	"strconv"
	"strings"
	"time"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// adminActor 审计用操作者，缺失时记为 admin
func adminActor(c *gin.Context) string {
	if actor := handlershared.Actor(c); actor != "" {
		return actor
	}
	return "admin"
}

func parseIDParam(c *gin.Context, name, invalidKey string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, invalidKey, nil)
		return 0, false
	}
	return uint(id), true
}

// parseTimeNullable 支持 RFC3339 与 2006-01-02，空串返回 nil
func parseTimeNullable(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
