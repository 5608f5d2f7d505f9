package admin

import (
	"strings"

	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// AdminSetStockRequest 调整总库存请求
type AdminSetStockRequest struct {
	TotalStock *int `json:"total_stock" binding:"required"`
}

// AdminGetStock 查看库存明细
func (h *Handler) AdminGetStock(c *gin.Context) {
	stockItemID, ok := parseIDParam(c, "id", "error.bad_request")
	if !ok {
		return
	}
	availability, err := h.InventoryService.Availability(c.Request.Context(), stockItemID)
	if err != nil {
		respondMapped(c, err, stockAdminErrorRules, response.CodeInternal, "error.inventory_fetch_failed")
		return
	}
	response.Success(c, availability)
}

// AdminSetStock 调整总库存，不得低于已预占与已提交数量之和
func (h *Handler) AdminSetStock(c *gin.Context) {
	stockItemID, ok := parseIDParam(c, "id", "error.bad_request")
	if !ok {
		return
	}
	var req AdminSetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TotalStock == nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	availability, err := h.InventoryService.SetTotalStock(c.Request.Context(), stockItemID, *req.TotalStock, adminActor(c))
	if err != nil {
		respondMapped(c, err, stockAdminErrorRules, response.CodeInternal, "error.inventory_update_failed")
		return
	}
	response.Success(c, availability)
}

// AdminGetReservation 查看单条预占
func (h *Handler) AdminGetReservation(c *gin.Context) {
	reservationID := strings.TrimSpace(c.Param("id"))
	if reservationID == "" {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}
	reservation, err := h.InventoryService.GetReservation(c.Request.Context(), reservationID)
	if err != nil {
		respondMapped(c, err, stockAdminErrorRules, response.CodeInternal, "error.inventory_fetch_failed")
		return
	}
	response.Success(c, reservation)
}

// AdminSweepReservations 手动触发过期预占回收
func (h *Handler) AdminSweepReservations(c *gin.Context) {
	released, err := h.InventoryService.SweepExpired(c.Request.Context(), 0)
	if err != nil {
		respondError(c, response.CodeInternal, "error.inventory_update_failed", err)
		return
	}
	requestLog(c).Infow("admin_reservation_sweep", "released", released)
	response.Success(c, gin.H{"released": released})
}
