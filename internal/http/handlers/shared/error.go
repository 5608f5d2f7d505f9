package shared

import (
	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var nopLog = zap.NewNop().Sugar()

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return nopLog
	}
	base := nopLog
	if value, ok := c.Get(ContextKeyLogger); ok {
		if log, ok := value.(*zap.SugaredLogger); ok && log != nil {
			base = log
		}
	}
	if requestID, ok := c.Get(ContextKeyRequestID); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return base.With("request_id", id)
		}
	}
	return base
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, key string, err error) {
	appErr := response.WrapError(code, Message(key), err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Error(c, appErr.Code, appErr.Message)
}

// RespondErrorWithData 返回错误响应并附带明细
func RespondErrorWithData(c *gin.Context, code int, key string, data interface{}) {
	response.ErrorWithData(c, code, Message(key), data)
}

// RespondErrorWithMsg 返回自定义消息错误响应，并在有原始错误时记录日志。
func RespondErrorWithMsg(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Error(c, appErr.Code, appErr.Message)
}
