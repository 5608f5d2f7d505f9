package public

import (
	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetAvailability 查询库存单元可售数量（过期预占不计入）
func (h *Handler) GetAvailability(c *gin.Context) {
	stockItemID, ok := parseIDParam(c, "stock_item_id", "error.stock_item_not_found")
	if !ok {
		return
	}
	availability, err := h.InventoryService.Availability(c.Request.Context(), stockItemID)
	if err != nil {
		respondInventoryError(c, err)
		return
	}
	response.Success(c, availability)
}
