package public

import (
	"errors"
	"strings"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader 下单幂等键
const IdempotencyKeyHeader = "Idempotency-Key"

// CheckoutRequest 下单请求
type CheckoutRequest struct {
	CustomerInfo    models.CustomerInfo    `json:"customer_info" binding:"required"`
	DeliveryAddress models.DeliveryAddress `json:"delivery_address" binding:"required"`
	PaymentMethod   string                 `json:"payment_method"`
	TradeIn         *models.TradeIn        `json:"trade_in"`
	PromoCode       *string                `json:"promo_code"`
	ExpectedTotal   *decimal.Decimal       `json:"expected_total"`
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// MigrateCart 登录后合并匿名购物车
func (h *Handler) MigrateCart(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	session := sessionID(c)
	if session == "" {
		respondError(c, response.CodeBadRequest, "error.session_required", nil)
		return
	}
	result, err := h.CartService.MigrateSessionToUser(c.Request.Context(), session, uid)
	if err != nil {
		// 部分项无法保留时仍返回合并后的购物车
		if result != nil && errors.Is(err, service.ErrCartService) {
			response.SuccessWithMsg(c, handlershared.Message("error.cart_migrate_partial"), result)
			return
		}
		respondCartError(c, err)
		return
	}
	response.Success(c, result)
}

// Checkout 用户购物车下单并发起支付
func (h *Handler) Checkout(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	cart, err := h.CartService.GetOrCreateCart(c.Request.Context(), service.CartOwner{UserID: uid})
	if err != nil {
		respondCartError(c, err)
		return
	}

	result, err := h.OrderService.CreateOrderFromCart(c.Request.Context(), service.CreateOrderInput{
		CartID:          cart.ID,
		UserID:          uid,
		Actor:           handlershared.Actor(c),
		CustomerInfo:    req.CustomerInfo,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		TradeIn:         req.TradeIn,
		PromoCode:       req.PromoCode,
		ExpectedTotal:   req.ExpectedTotal,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)),
	})
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	h.respondCheckoutResult(c, result)
}

func (h *Handler) respondCheckoutResult(c *gin.Context, result *service.CheckoutResult) {
	switch {
	case result.PaymentError == nil:
		response.Success(c, result)
	case errors.Is(result.PaymentError, service.ErrPaymentGatewayTimeout):
		// 网关超时：订单保留待对账
		response.SuccessWithMsg(c, handlershared.Message("error.payment_pending"), result)
	default:
		respondPaymentFailure(c, result.PaymentError, result)
	}
}

// ListOrders 获取订单列表
func (h *Handler) ListOrders(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.QueryPagination(c)
	orders, total, err := h.OrderService.ListUserOrders(c.Request.Context(), repository.OrderListFilter{
		Page:          page,
		PageSize:      pageSize,
		UserID:        uid,
		OrderStatus:   strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		PaymentStatus: strings.ToUpper(strings.TrimSpace(c.Query("payment_status"))),
		OrderNo:       strings.TrimSpace(c.Query("order_no")),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "error.order_fetch_failed", err)
		return
	}
	response.SuccessWithPage(c, orders, handlershared.BuildPagination(page, pageSize, total))
}

// GetOrder 获取订单详情
func (h *Handler) GetOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id", "error.order_not_found")
	if !ok {
		return
	}
	order, err := h.OrderService.GetUserOrder(c.Request.Context(), uid, orderID)
	if err != nil {
		respondWithMappedError(c, err, orderErrorRules, response.CodeInternal, "error.order_fetch_failed")
		return
	}
	response.Success(c, order)
}

// CancelOrder 用户取消订单
func (h *Handler) CancelOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id", "error.order_not_found")
	if !ok {
		return
	}
	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.OrderService.CancelOrder(c.Request.Context(), uid, orderID, req.Reason)
	if err != nil {
		respondOrderError(c, err)
		return
	}
	response.Success(c, order)
}

// RetryPayment 支付失败后重新发起
func (h *Handler) RetryPayment(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(c, "id", "error.order_not_found")
	if !ok {
		return
	}
	result, err := h.OrderService.RetryPayment(c.Request.Context(), uid, orderID)
	if err != nil {
		if result != nil {
			respondPaymentFailure(c, err, result)
			return
		}
		respondOrderError(c, err)
		return
	}
	h.respondCheckoutResult(c, result)
}
