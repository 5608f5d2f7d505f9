package public

import (
	"errors"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	key    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	var shortage *service.InsufficientInventoryError
	if errors.As(err, &shortage) {
		handlershared.RespondErrorWithData(c, response.CodeConflict, "error.insufficient_inventory", gin.H{
			"stock_item_id": shortage.StockItemID,
			"requested":     shortage.Requested,
			"available":     shortage.Available,
		})
		return
	}
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.key, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackKey, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var cartErrorRules = []mappedHandlerError{
	{target: service.ErrInsufficientInventory, code: response.CodeConflict, key: "error.insufficient_inventory"},
	{target: service.ErrCartNotFound, code: response.CodeNotFound, key: "error.cart_not_found"},
	{target: service.ErrCartItemNotFound, code: response.CodeNotFound, key: "error.cart_item_not_found"},
	{target: service.ErrCartItemQuantityInvalid, code: response.CodeBadRequest, key: "error.cart_item_quantity_invalid"},
	{target: service.ErrCartOwnerInvalid, code: response.CodeBadRequest, key: "error.session_required"},
	{target: service.ErrVehicleNotAvailable, code: response.CodeBadRequest, key: "error.vehicle_not_available"},
	{target: service.ErrStockItemNotFound, code: response.CodeNotFound, key: "error.stock_item_not_found"},
	{target: service.ErrInvalidPromotionalCode, code: response.CodeBadRequest, key: "error.promo_invalid"},
	{target: service.ErrReservationNotFound, code: response.CodeConflict, key: "error.reservation_expired"},
}

var checkoutErrorRules = []mappedHandlerError{
	{target: service.ErrOrderValidation, code: response.CodeBadRequest, key: "error.order_validation"},
	{target: service.ErrCartEmpty, code: response.CodeBadRequest, key: "error.cart_empty"},
	{target: service.ErrOrderConcurrentUpdate, code: response.CodeConflict, key: "error.order_concurrent_update"},
	{target: service.ErrOrderProcessing, code: response.CodeInternal, key: "error.order_create_failed"},
}

var orderErrorRules = []mappedHandlerError{
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, key: "error.order_not_found"},
	{target: service.ErrStateTransition, code: response.CodeConflict, key: "error.order_status_invalid"},
	{target: service.ErrOrderConcurrentUpdate, code: response.CodeConflict, key: "error.order_concurrent_update"},
	{target: service.ErrPaymentRetryNotAllowed, code: response.CodeConflict, key: "error.payment_retry_not_allowed"},
}

var paymentErrorRules = []mappedHandlerError{
	{target: service.ErrFraudDetected, code: response.CodeForbidden, key: "error.payment_fraud"},
	{target: service.ErrPaymentProcessing, code: response.CodeBadGateway, key: "error.payment_failed"},
	{target: service.ErrPaymentGatewayTimeout, code: response.CodeBadGateway, key: "error.payment_failed"},
}

var inventoryErrorRules = []mappedHandlerError{
	{target: service.ErrStockItemNotFound, code: response.CodeNotFound, key: "error.stock_item_not_found"},
	{target: service.ErrInventoryInputInvalid, code: response.CodeBadRequest, key: "error.bad_request"},
}

func respondCartError(c *gin.Context, err error) {
	respondWithMappedError(c, err, cartErrorRules, response.CodeInternal, "error.cart_update_failed")
}

func respondCheckoutError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(checkoutErrorRules, cartErrorRules, paymentErrorRules), response.CodeInternal, "error.order_create_failed")
}

func respondOrderError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(orderErrorRules, paymentErrorRules), response.CodeInternal, "error.order_update_failed")
}

func respondInventoryError(c *gin.Context, err error) {
	respondWithMappedError(c, err, inventoryErrorRules, response.CodeInternal, "error.inventory_fetch_failed")
}

// respondPaymentFailure 订单已创建但支付失败时，响应中保留订单供重试
func respondPaymentFailure(c *gin.Context, err error, result *service.CheckoutResult) {
	code, key := response.CodeBadGateway, "error.payment_failed"
	if errors.Is(err, service.ErrFraudDetected) {
		code, key = response.CodeForbidden, "error.payment_fraud"
	}
	data := gin.H{}
	if result != nil {
		data["order"] = result.Order
		data["payment"] = result.Payment
	}
	requestLog(c).Warnw("checkout_payment_failed", "error", err)
	handlershared.RespondErrorWithData(c, code, key, data)
}
