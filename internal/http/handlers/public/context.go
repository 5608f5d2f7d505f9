package public

import (
	"strconv"
	"strings"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartSessionHeader 匿名购物车会话头
const CartSessionHeader = "X-Cart-Session"

const maxSessionIDLength = 64

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

func getUserID(c *gin.Context) (uint, bool) {
	return handlershared.GetContextUintWithKeys(c, handlershared.ContextKeyUserID, "error.user_id_invalid", "error.user_id_type_invalid")
}

// sessionID 读取会话头，非法值视为缺失
func sessionID(c *gin.Context) string {
	value := strings.TrimSpace(c.GetHeader(CartSessionHeader))
	if value == "" || len(value) > maxSessionIDLength {
		return ""
	}
	return value
}

// resolveCartOwner 登录用户优先，其次会话头，都没有时签发新会话并回写响应头
func resolveCartOwner(c *gin.Context) service.CartOwner {
	if userID := handlershared.OptionalUserID(c); userID != 0 {
		return service.CartOwner{UserID: userID}
	}
	session := sessionID(c)
	if session == "" {
		session = uuid.NewString()
	}
	c.Header(CartSessionHeader, session)
	return service.CartOwner{SessionID: session}
}

func parseIDParam(c *gin.Context, name, invalidKey string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, invalidKey, nil)
		return 0, false
	}
	return uint(id), true
}
