package repository

import (
	"testing"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"

	"github.com/shopspring/decimal"
)

func createTestOrder(t *testing.T, repo *GormOrderRepository, orderNo string, userID uint, email string) *models.Order {
	t.Helper()
	key := orderNo + "-key"
	order := &models.Order{
		OrderNo:           orderNo,
		UserID:            userID,
		CustomerInfo:      models.CustomerInfo{Name: "Test", Email: email},
		PaymentMethod:     constants.PaymentMethodCard,
		OrderStatus:       constants.OrderStatusPending,
		PaymentStatus:     constants.PaymentStatusPending,
		FulfillmentStatus: constants.FulfillmentStatusUnfulfilled,
		Currency:          "USD",
		TotalAmount:       models.NewMoney(decimal.NewFromInt(30000)),
		IdempotencyKey:    &key,
		Version:           1,
	}
	items := []models.OrderItem{{VehicleID: 1, StockItemID: 1, Quantity: 1, UnitPrice: models.NewMoney(decimal.NewFromInt(30000))}}
	if err := repo.Create(order, items); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func TestOrderRepositoryTransitionStatusOptimistic(t *testing.T) {
	db := setupRepositoryTestDB(t, "order_transition")
	repo := NewOrderRepository(db)
	order := createTestOrder(t, repo, "MC001", 1, "a@example.com")

	rows, err := repo.TransitionStatus(order.ID, "payment_status", constants.PaymentStatusPending, constants.PaymentStatusAuthorized, 1, nil)
	if err != nil || rows != 1 {
		t.Fatalf("transition want rows=1 got rows=%d err=%v", rows, err)
	}
	// 旧版本号再次提交应失败
	rows, err = repo.TransitionStatus(order.ID, "order_status", constants.OrderStatusPending, constants.OrderStatusConfirmed, 1, nil)
	if err != nil {
		t.Fatalf("stale transition failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("stale version should affect 0 rows")
	}

	got, err := repo.GetByID(order.ID)
	if err != nil || got == nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if got.Version != 2 || got.PaymentStatus != constants.PaymentStatusAuthorized || got.OrderStatus != constants.OrderStatusPending {
		t.Fatalf("unexpected order after transition: version=%d payment=%s order=%s", got.Version, got.PaymentStatus, got.OrderStatus)
	}
	if len(got.Items) != 1 {
		t.Fatalf("order items should be preloaded")
	}
}

func TestOrderRepositoryIdempotencyLookupScopedToUser(t *testing.T) {
	db := setupRepositoryTestDB(t, "order_idem")
	repo := NewOrderRepository(db)
	createTestOrder(t, repo, "MC002", 5, "b@example.com")

	got, err := repo.GetByIdempotencyKey(5, "MC002-key")
	if err != nil || got == nil || got.OrderNo != "MC002" {
		t.Fatalf("idempotency lookup failed: order=%v err=%v", got, err)
	}
	got, err = repo.GetByIdempotencyKey(6, "MC002-key")
	if err != nil {
		t.Fatalf("foreign idempotency lookup failed: %v", err)
	}
	if got != nil {
		t.Fatalf("other users must not see the order")
	}
}

func TestOrderRepositoryListAdminFilters(t *testing.T) {
	db := setupRepositoryTestDB(t, "order_list")
	repo := NewOrderRepository(db)
	createTestOrder(t, repo, "MC010", 1, "alice@example.com")
	createTestOrder(t, repo, "MC011", 2, "bob@example.com")
	third := createTestOrder(t, repo, "MC012", 1, "alice@example.com")
	if _, err := repo.TransitionStatus(third.ID, "order_status", constants.OrderStatusPending, constants.OrderStatusCancelled, 1, nil); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	orders, total, err := repo.ListAdmin(OrderListFilter{CustomerEmail: "alice", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list admin failed: %v", err)
	}
	if total != 2 || len(orders) != 2 {
		t.Fatalf("email filter want 2 got total=%d len=%d", total, len(orders))
	}

	orders, total, err = repo.ListByUser(OrderListFilter{UserID: 1, OrderStatus: constants.OrderStatusPending, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list by user failed: %v", err)
	}
	if total != 1 || orders[0].OrderNo != "MC010" {
		t.Fatalf("status filter unexpected: total=%d orders=%+v", total, orders)
	}

	orders, total, err = repo.ListByUser(OrderListFilter{})
	if err != nil || total != 0 || len(orders) != 0 {
		t.Fatalf("empty user filter should return nothing")
	}
}
