package service

import (
	"context"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"
)

func normalizeOrderFilter(filter repository.OrderListFilter) repository.OrderListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return filter
}

// GetOrder 获取订单详情（含订单项）
func (s *OrderService) GetOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := s.orderRepo.WithTx(s.db.WithContext(ctx)).GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetUserOrder 获取用户自己的订单
func (s *OrderService) GetUserOrder(ctx context.Context, userID, orderID uint) (*models.Order, error) {
	order, err := s.orderRepo.WithTx(s.db.WithContext(ctx)).GetByIDAndUser(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListUserOrders 用户订单分页
func (s *OrderService) ListUserOrders(ctx context.Context, filter repository.OrderListFilter) ([]models.Order, int64, error) {
	if filter.UserID == 0 {
		return nil, 0, ErrOrderNotFound
	}
	return s.orderRepo.WithTx(s.db.WithContext(ctx)).ListByUser(normalizeOrderFilter(filter))
}

// ListAdminOrders 管理端订单分页
func (s *OrderService) ListAdminOrders(ctx context.Context, filter repository.OrderListFilter) ([]models.Order, int64, error) {
	return s.orderRepo.WithTx(s.db.WithContext(ctx)).ListAdmin(normalizeOrderFilter(filter))
}

// OrderHistory 订单的支付事件与审计记录
type OrderHistory struct {
	PaymentEvents []models.PaymentEvent `json:"payment_events"`
	AuditLogs     []models.AuditLog     `json:"audit_logs"`
}

// GetOrderHistory 管理端查看订单事件历史
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID uint, auditRepo repository.AuditLogRepository) (*OrderHistory, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	events, err := s.paymentEventRepo.WithTx(db).ListByOrder(orderID)
	if err != nil {
		return nil, err
	}
	history := &OrderHistory{PaymentEvents: events}
	if auditRepo != nil {
		logs, err := auditRepo.WithTx(db).ListByEntity(constants.AuditEntityOrder, orderEntityID(orderID))
		if err != nil {
			return nil, err
		}
		history.AuditLogs = logs
	}
	return history, nil
}
