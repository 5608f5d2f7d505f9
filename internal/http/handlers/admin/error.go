package admin

import (
	"errors"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

type mappedHandlerError struct {
	target error
	code   int
	key    string
}

var orderAdminErrorRules = []mappedHandlerError{
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, key: "error.order_not_found"},
	{target: service.ErrStateTransition, code: response.CodeConflict, key: "error.order_status_invalid"},
	{target: service.ErrOrderConcurrentUpdate, code: response.CodeConflict, key: "error.order_concurrent_update"},
	{target: service.ErrOrderValidation, code: response.CodeBadRequest, key: "error.order_validation"},
}

var stockAdminErrorRules = []mappedHandlerError{
	{target: service.ErrStockItemNotFound, code: response.CodeNotFound, key: "error.stock_item_not_found"},
	{target: service.ErrStockTotalBelowHeld, code: response.CodeConflict, key: "error.stock_total_below_held"},
	{target: service.ErrInventoryInputInvalid, code: response.CodeBadRequest, key: "error.bad_request"},
	{target: service.ErrReservationNotFound, code: response.CodeNotFound, key: "error.reservation_not_found"},
}

func respondMapped(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.key, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackKey, err)
}
