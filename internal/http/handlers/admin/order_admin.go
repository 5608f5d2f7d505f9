package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"
	"github.com/motorcart-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/tealeg/xlsx"
)

// 导出上限：按最大分页拉取
const (
	exportPageSize = 100
	exportMaxRows  = 5000
)

// AdminOrderDetail 管理端订单详情返回
type AdminOrderDetail struct {
	models.Order
	History *service.OrderHistory `json:"history,omitempty"`
}

// AdminUpdateOrderStatusRequest 管理端更新订单状态请求
type AdminUpdateOrderStatusRequest struct {
	Dimension       string `json:"dimension"`
	Status          string `json:"status" binding:"required"`
	ExpectedVersion *int   `json:"expected_version"`
	Reason          string `json:"reason"`
}

func parseOrderFilter(c *gin.Context) (repository.OrderListFilter, error) {
	page, pageSize := handlershared.QueryPagination(c)
	createdFrom, err := parseTimeNullable(c.Query("created_from"))
	if err != nil {
		return repository.OrderListFilter{}, err
	}
	createdTo, err := parseTimeNullable(c.Query("created_to"))
	if err != nil {
		return repository.OrderListFilter{}, err
	}
	var userID uint
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return repository.OrderListFilter{}, err
		}
		userID = uint(parsed)
	}
	return repository.OrderListFilter{
		Page:              page,
		PageSize:          pageSize,
		UserID:            userID,
		OrderStatus:       strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		PaymentStatus:     strings.ToUpper(strings.TrimSpace(c.Query("payment_status"))),
		FulfillmentStatus: strings.ToUpper(strings.TrimSpace(c.Query("fulfillment_status"))),
		OrderNo:           strings.TrimSpace(c.Query("order_no")),
		CustomerEmail:     strings.TrimSpace(c.Query("customer_email")),
		CreatedFrom:       createdFrom,
		CreatedTo:         createdTo,
	}, nil
}

// AdminListOrders 管理端订单列表
func (h *Handler) AdminListOrders(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	orders, total, err := h.OrderService.ListAdminOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.order_fetch_failed", err)
		return
	}
	response.SuccessWithPage(c, orders, handlershared.BuildPagination(filter.Page, filter.PageSize, total))
}

// AdminGetOrder 管理端订单详情，附带支付事件与审计历史
func (h *Handler) AdminGetOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id", "error.bad_request")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	order, err := h.OrderService.GetOrder(ctx, orderID)
	if err != nil {
		respondMapped(c, err, orderAdminErrorRules, response.CodeInternal, "error.order_fetch_failed")
		return
	}
	history, err := h.OrderService.GetOrderHistory(ctx, orderID, h.AuditLogRepo)
	if err != nil {
		respondMapped(c, err, orderAdminErrorRules, response.CodeInternal, "error.order_fetch_failed")
		return
	}
	response.Success(c, AdminOrderDetail{Order: *order, History: history})
}

// AdminUpdateOrderStatus 管理端推进订单状态，dimension 缺省为 order
func (h *Handler) AdminUpdateOrderStatus(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id", "error.bad_request")
	if !ok {
		return
	}
	var req AdminUpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	dimension := strings.ToLower(strings.TrimSpace(req.Dimension))
	if dimension == "" {
		dimension = "order"
	}
	order, err := h.OrderService.UpdateStatus(c.Request.Context(), orderID, service.StatusUpdate{
		Dimension:       dimension,
		Target:          strings.ToUpper(strings.TrimSpace(req.Status)),
		ExpectedVersion: req.ExpectedVersion,
		Actor:           adminActor(c),
		Reason:          strings.TrimSpace(req.Reason),
		Source:          "admin",
	})
	if err != nil {
		respondMapped(c, err, orderAdminErrorRules, response.CodeInternal, "error.order_update_failed")
		return
	}
	requestLog(c).Infow("admin_order_status_updated", "order_id", orderID, "dimension", dimension, "status", req.Status)
	response.Success(c, order)
}

// AdminExportOrders 按当前筛选条件导出订单 xlsx
func (h *Handler) AdminExportOrders(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	filter.Page = 1
	filter.PageSize = exportPageSize

	ctx := c.Request.Context()
	rows := make([]models.Order, 0, exportPageSize)
	for len(rows) < exportMaxRows {
		orders, total, err := h.OrderService.ListAdminOrders(ctx, filter)
		if err != nil {
			respondError(c, response.CodeInternal, "error.order_export_failed", err)
			return
		}
		rows = append(rows, orders...)
		if len(orders) < filter.PageSize || int64(len(rows)) >= total {
			break
		}
		filter.Page++
	}
	if len(rows) > exportMaxRows {
		rows = rows[:exportMaxRows]
	}

	file, err := buildOrderSheet(rows)
	if err != nil {
		respondError(c, response.CodeInternal, "error.order_export_failed", err)
		return
	}
	filename := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102150405"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Transfer-Encoding", "binary")
	if err := file.Write(c.Writer); err != nil {
		requestLog(c).Errorw("admin_order_export_write_failed", "error", err)
	}
}

var orderSheetHeaders = []string{
	"ID", "OrderNo", "UserID", "CustomerName", "CustomerEmail",
	"OrderStatus", "PaymentStatus", "FulfillmentStatus", "Currency",
	"Subtotal", "Discount", "Tax", "Total", "PromoCode", "CreatedAt",
}

func buildOrderSheet(orders []models.Order) (*xlsx.File, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return nil, err
	}
	header := sheet.AddRow()
	for _, name := range orderSheetHeaders {
		header.AddCell().SetValue(name)
	}
	for _, order := range orders {
		row := sheet.AddRow()
		row.AddCell().SetValue(order.ID)
		row.AddCell().SetValue(order.OrderNo)
		row.AddCell().SetValue(order.UserID)
		row.AddCell().SetValue(order.CustomerInfo.Name)
		row.AddCell().SetValue(order.CustomerInfo.Email)
		row.AddCell().SetValue(order.OrderStatus)
		row.AddCell().SetValue(order.PaymentStatus)
		row.AddCell().SetValue(order.FulfillmentStatus)
		row.AddCell().SetValue(order.Currency)
		row.AddCell().SetValue(order.Subtotal.StringFixed(2))
		row.AddCell().SetValue(order.DiscountAmount.StringFixed(2))
		row.AddCell().SetValue(order.TaxAmount.StringFixed(2))
		row.AddCell().SetValue(order.TotalAmount.StringFixed(2))
		row.AddCell().SetValue(order.PromoCode)
		row.AddCell().SetValue(order.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return file, nil
}

// AdminOrderStream 订阅订单事件推送
func (h *Handler) AdminOrderStream(c *gin.Context) {
	if h.Hub == nil {
		respondError(c, response.CodeInternal, "error.internal", nil)
		return
	}
	h.Hub.ServeWS(c)
}
