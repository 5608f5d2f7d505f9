package public

import (
	"strings"

	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CartItemRequest 加购请求
type CartItemRequest struct {
	VehicleID       uint `json:"vehicle_id" binding:"required"`
	ConfigurationID uint `json:"configuration_id"`
	Quantity        int  `json:"quantity" binding:"required"`
}

// CartItemUpdateRequest 修改数量请求，0 表示移除
type CartItemUpdateRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// CartPromoRequest 优惠码请求
type CartPromoRequest struct {
	Code string `json:"code" binding:"required"`
}

// ownerCart 取当前归属方的活跃购物车，不存在时创建
func (h *Handler) ownerCart(c *gin.Context) (*models.Cart, bool) {
	cart, err := h.CartService.GetOrCreateCart(c.Request.Context(), resolveCartOwner(c))
	if err != nil {
		respondWithMappedError(c, err, cartErrorRules, response.CodeInternal, "error.cart_fetch_failed")
		return nil, false
	}
	return cart, true
}

// GetCart 获取购物车
func (h *Handler) GetCart(c *gin.Context) {
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	response.Success(c, cart)
}

// AddCartItem 加购，同车型同配置合并数量
func (h *Handler) AddCartItem(c *gin.Context) {
	var req CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	updated, err := h.CartService.AddItem(c.Request.Context(), cart.ID, service.AddCartItemInput{
		VehicleID:       req.VehicleID,
		ConfigurationID: req.ConfigurationID,
		Quantity:        req.Quantity,
	})
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, updated)
}

// UpdateCartItem 修改购物车项数量
func (h *Handler) UpdateCartItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id", "error.cart_item_not_found")
	if !ok {
		return
	}
	var req CartItemUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	updated, err := h.CartService.UpdateItem(c.Request.Context(), cart.ID, itemID, *req.Quantity)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, updated)
}

// RemoveCartItem 移除购物车项并释放预占
func (h *Handler) RemoveCartItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id", "error.cart_item_not_found")
	if !ok {
		return
	}
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	updated, err := h.CartService.RemoveItem(c.Request.Context(), cart.ID, itemID)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, updated)
}

// ApplyCartPromo 应用优惠码
func (h *Handler) ApplyCartPromo(c *gin.Context) {
	var req CartPromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	updated, err := h.CartService.ApplyPromo(c.Request.Context(), cart.ID, req.Code)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, updated)
}

// RemoveCartPromo 移除优惠码
func (h *Handler) RemoveCartPromo(c *gin.Context) {
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	updated, err := h.CartService.RemovePromo(c.Request.Context(), cart.ID)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, updated)
}

// QuoteCart 按当前售价预览结算金额
func (h *Handler) QuoteCart(c *gin.Context) {
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	quote, err := h.CartService.Quote(c.Request.Context(), cart.ID, strings.TrimSpace(c.Query("region")))
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, quote)
}

// RefreshCart 续期预占，无法续期的项返回在 dropped 中
func (h *Handler) RefreshCart(c *gin.Context) {
	cart, ok := h.ownerCart(c)
	if !ok {
		return
	}
	result, err := h.CartService.RefreshReservations(c.Request.Context(), cart.ID)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, result)
}
