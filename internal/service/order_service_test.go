package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/repository"

	"github.com/shopspring/decimal"
)

// prepareCheckoutCart 用户购物车：车型 35000 + 配置 5000，数量 1
func prepareCheckoutCart(t *testing.T, f *serviceFixture, userID uint) (*models.Cart, *models.StockItem) {
	t.Helper()
	vehicle, configuration, stock := seedVehicle(t, f.db, "35000", "5000", 5)
	ctx := context.Background()
	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: userID})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	cart, err = f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, ConfigurationID: configuration.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	return cart, stock
}

func checkoutOrFail(t *testing.T, f *serviceFixture, input CreateOrderInput) *CheckoutResult {
	t.Helper()
	result, err := f.orders.CreateOrderFromCart(context.Background(), input)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return result
}

func TestCreateOrderFromCartPricesAndCommits(t *testing.T) {
	f := newServiceFixture(t, "order_checkout")
	seedFlatPromo(t, f.db, "SPRING1000", "1000")
	cart, stock := prepareCheckoutCart(t, f, 11)
	ctx := context.Background()

	if _, err := f.carts.ApplyPromo(ctx, cart.ID, "SPRING1000"); err != nil {
		t.Fatalf("apply promo failed: %v", err)
	}
	expected := decimal.NewFromInt(42120)
	input := testCheckoutInput(cart.ID, 11)
	input.ExpectedTotal = &expected

	result := checkoutOrFail(t, f, input)
	order := result.Order
	if result.PaymentError != nil {
		t.Fatalf("unexpected payment error: %v", result.PaymentError)
	}
	if !order.TotalAmount.Decimal.Equal(expected) || !order.DiscountAmount.Decimal.Equal(decimal.NewFromInt(1000)) || !order.TaxAmount.Decimal.Equal(decimal.NewFromInt(3120)) {
		t.Fatalf("unexpected totals: total=%s discount=%s tax=%s", order.TotalAmount.String(), order.DiscountAmount.String(), order.TaxAmount.String())
	}
	if order.OrderStatus != constants.OrderStatusPending || order.PaymentStatus != constants.PaymentStatusPending || order.FulfillmentStatus != constants.FulfillmentStatusUnfulfilled {
		t.Fatalf("unexpected initial statuses: %s/%s/%s", order.OrderStatus, order.PaymentStatus, order.FulfillmentStatus)
	}
	if !strings.HasPrefix(order.OrderNo, "MC") || order.PromoCode != "SPRING1000" {
		t.Fatalf("unexpected order header: %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].Title == "" {
		t.Fatalf("order items not persisted: %+v", order.Items)
	}
	if order.PaymentIntentID == "" || f.gateway.calls != 1 {
		t.Fatalf("payment intent should be created once, calls=%d intent=%q", f.gateway.calls, order.PaymentIntentID)
	}
	if !f.gateway.lastReq.Amount.Equal(expected) || f.gateway.lastReq.IdempotencyKey != order.OrderNo+"-v1" {
		t.Fatalf("unexpected intent request: %+v", f.gateway.lastReq)
	}

	reloaded := reloadStock(t, f.db, stock.ID)
	if reloaded.CommittedQty != 1 || reloaded.ReservedQty != 0 {
		t.Fatalf("reservation should be committed: %+v", reloaded)
	}
	var converted models.Cart
	if err := f.db.Preload("Items").First(&converted, cart.ID).Error; err != nil {
		t.Fatalf("reload cart failed: %v", err)
	}
	if converted.Status != constants.CartStatusConverted || len(converted.Items) != 0 {
		t.Fatalf("cart should be converted and emptied: %+v", converted)
	}
	var promo models.PromotionalCode
	if err := f.db.Where("code = ?", "SPRING1000").First(&promo).Error; err != nil {
		t.Fatalf("reload promo failed: %v", err)
	}
	if promo.UsedCount != 1 {
		t.Fatalf("promo usage should increment, got %d", promo.UsedCount)
	}
	if f.sink.count(constants.AuditEntityOrder, "created") != 1 {
		t.Fatalf("missing order created audit event")
	}
}

func TestCreateOrderFromCartRejectsExpiredReservation(t *testing.T) {
	f := newServiceFixture(t, "order_expired_reservation")
	cart, stock := prepareCheckoutCart(t, f, 12)

	f.clock.Advance(21 * time.Minute)
	_, err := f.orders.CreateOrderFromCart(context.Background(), testCheckoutInput(cart.ID, 12))
	var detail *InsufficientInventoryError
	if !errors.As(err, &detail) || !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	if detail.StockItemID != stock.ID || detail.Requested != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	unchanged, err := f.carts.GetCart(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if unchanged.Status != constants.CartStatusActive || len(unchanged.Items) != 1 {
		t.Fatalf("cart must stay untouched: %+v", unchanged)
	}
	var orders int64
	f.db.Model(&models.Order{}).Count(&orders)
	if orders != 0 || f.gateway.calls != 0 {
		t.Fatalf("no order or payment expected, orders=%d calls=%d", orders, f.gateway.calls)
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.CommittedQty != 0 {
		t.Fatalf("nothing should be committed: %+v", reloaded)
	}
}

func TestCreateOrderFromCartValidation(t *testing.T) {
	f := newServiceFixture(t, "order_validation")
	cart, _ := prepareCheckoutCart(t, f, 13)
	ctx := context.Background()

	missingEmail := testCheckoutInput(cart.ID, 13)
	missingEmail.CustomerInfo.Email = ""
	if _, err := f.orders.CreateOrderFromCart(ctx, missingEmail); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.orders.CreateOrderFromCart(ctx, testCheckoutInput(cart.ID, 99)); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("foreign cart should not be found, got %v", err)
	}
	stale := decimal.NewFromInt(40000)
	staleTotal := testCheckoutInput(cart.ID, 13)
	staleTotal.ExpectedTotal = &stale
	if _, err := f.orders.CreateOrderFromCart(ctx, staleTotal); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("total drift should be rejected, got %v", err)
	}
	badPromo := "GHOST"
	withPromo := testCheckoutInput(cart.ID, 13)
	withPromo.PromoCode = &badPromo
	if _, err := f.orders.CreateOrderFromCart(ctx, withPromo); !errors.Is(err, ErrInvalidPromotionalCode) {
		t.Fatalf("unknown promo should be rejected, got %v", err)
	}
}

func TestCreateOrderFromCartReplaysIdempotencyKey(t *testing.T) {
	f := newServiceFixture(t, "order_idempotency")
	cart, _ := prepareCheckoutCart(t, f, 14)

	input := testCheckoutInput(cart.ID, 14)
	input.IdempotencyKey = "checkout-abc"
	first := checkoutOrFail(t, f, input)
	second := checkoutOrFail(t, f, input)
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Fatalf("second call should replay order %d, got %+v", first.Order.ID, second.Order)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("replay must not create another intent, calls=%d", f.gateway.calls)
	}
}

func TestHandlePaymentEventAppliesOnceAndConfirms(t *testing.T) {
	f := newServiceFixture(t, "order_payment_event")
	cart, _ := prepareCheckoutCart(t, f, 15)
	order := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 15)).Order
	ctx := context.Background()

	input := PaymentEventInput{EventID: "evt_1", Type: constants.PaymentEventSucceeded, IntentID: order.PaymentIntentID}
	outcome, err := f.orders.HandlePaymentEvent(ctx, input)
	if err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	if outcome.Result != constants.PaymentEventResultApplied || outcome.Duplicate {
		t.Fatalf("unexpected first outcome: %+v", outcome)
	}
	if outcome.PaymentStatus != constants.PaymentStatusCaptured || outcome.OrderStatus != constants.OrderStatusConfirmed {
		t.Fatalf("capture should auto-confirm the order: %+v", outcome)
	}

	again, err := f.orders.HandlePaymentEvent(ctx, input)
	if err != nil {
		t.Fatalf("duplicate event failed: %v", err)
	}
	if !again.Duplicate || again.OrderID != order.ID {
		t.Fatalf("second delivery should be reported as duplicate: %+v", again)
	}

	var rows int64
	f.db.Model(&models.PaymentEvent{}).Where("event_id = ?", "evt_1").Count(&rows)
	if rows != 1 {
		t.Fatalf("want 1 payment event row, got %d", rows)
	}
	current, err := f.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Version != 3 || current.PaidAt == nil {
		t.Fatalf("expected two transitions and paid_at, got version=%d paid_at=%v", current.Version, current.PaidAt)
	}
	if got := f.sink.count(constants.AuditEntityOrder, "status_changed"); got != 2 {
		t.Fatalf("want 2 status audit events, got %d", got)
	}

	unknown, err := f.orders.HandlePaymentEvent(ctx, PaymentEventInput{EventID: "evt_2", Type: "payment.disputed", OrderID: order.ID})
	if err != nil {
		t.Fatalf("unknown type should be recorded, got %v", err)
	}
	if unknown.Result != constants.PaymentEventResultIgnored {
		t.Fatalf("unknown type should be ignored: %+v", unknown)
	}
	if _, err := f.orders.HandlePaymentEvent(ctx, PaymentEventInput{Type: constants.PaymentEventSucceeded}); !errors.Is(err, ErrPaymentEventInvalid) {
		t.Fatalf("event without id should be invalid, got %v", err)
	}
}

func TestHandlePaymentEventRejectsOutOfOrderRefund(t *testing.T) {
	f := newServiceFixture(t, "order_payment_out_of_order")
	cart, _ := prepareCheckoutCart(t, f, 16)
	order := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 16)).Order

	outcome, err := f.orders.HandlePaymentEvent(context.Background(), PaymentEventInput{EventID: "evt_refund", Type: constants.PaymentEventRefunded, OrderID: order.ID})
	if err != nil {
		t.Fatalf("out of order event should not error: %v", err)
	}
	if outcome.Result != constants.PaymentEventResultRejected || outcome.PaymentStatus != constants.PaymentStatusPending {
		t.Fatalf("refund before capture should be rejected: %+v", outcome)
	}
}

func TestHandlePaymentEventAppliesGatewayRefundOnActiveOrder(t *testing.T) {
	f := newServiceFixture(t, "order_payment_refund")
	cart, _ := prepareCheckoutCart(t, f, 18)
	order := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 18)).Order
	ctx := context.Background()

	if _, err := f.orders.HandlePaymentEvent(ctx, PaymentEventInput{EventID: "evt_capture", Type: constants.PaymentEventSucceeded, OrderID: order.ID}); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	outcome, err := f.orders.HandlePaymentEvent(ctx, PaymentEventInput{EventID: "evt_refund_active", Type: constants.PaymentEventRefunded, OrderID: order.ID})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if outcome.Result != constants.PaymentEventResultApplied {
		t.Fatalf("gateway refund should be applied: %+v", outcome)
	}
	if outcome.PaymentStatus != constants.PaymentStatusRefunded || outcome.OrderStatus != constants.OrderStatusConfirmed {
		t.Fatalf("unexpected statuses after refund: %+v", outcome)
	}
	current, err := f.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.PaymentStatus != constants.PaymentStatusRefunded {
		t.Fatalf("stored payment status should be refunded, got %s", current.PaymentStatus)
	}
}

func TestCancelOrderRestocksInventory(t *testing.T) {
	f := newServiceFixture(t, "order_cancel")
	cart, stock := prepareCheckoutCart(t, f, 17)
	order := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 17)).Order
	ctx := context.Background()

	if _, err := f.orders.CancelOrder(ctx, 99, order.ID, "wrong user"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("other users cannot cancel, got %v", err)
	}
	cancelled, err := f.orders.CancelOrder(ctx, 17, order.ID, "changed mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.OrderStatus != constants.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}
	reloaded := reloadStock(t, f.db, stock.ID)
	if reloaded.CommittedQty != 0 || reloaded.Available() != 5 {
		t.Fatalf("cancel should restock committed units: %+v", reloaded)
	}
	if _, err := f.orders.CancelOrder(ctx, 17, order.ID, "again"); !errors.Is(err, ErrStateTransition) {
		t.Fatalf("second cancel should fail with state error, got %v", err)
	}
}

func TestUpdateStatusDetectsStaleVersion(t *testing.T) {
	f := newServiceFixture(t, "order_version")
	cart, _ := prepareCheckoutCart(t, f, 18)
	order := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 18)).Order
	ctx := context.Background()

	stale := order.Version
	if _, err := f.orders.UpdateStatus(ctx, order.ID, StatusUpdate{Dimension: "payment", Target: "AUTHORIZED", Actor: "admin:1"}); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	_, err := f.orders.UpdateStatus(ctx, order.ID, StatusUpdate{Dimension: "order", Target: "CONFIRMED", ExpectedVersion: &stale, Actor: "admin:2"})
	if !errors.Is(err, ErrOrderConcurrentUpdate) {
		t.Fatalf("expected concurrent update error, got %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, order.ID, StatusUpdate{Dimension: "fulfillment", Target: "PREPARING", Actor: "admin:2"}); !errors.Is(err, ErrStateTransition) {
		t.Fatalf("fulfillment before confirmation should fail, got %v", err)
	}
	confirmed, err := f.orders.UpdateStatus(ctx, order.ID, StatusUpdate{Dimension: "order", Target: "CONFIRMED", Actor: "admin:2"})
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.OrderStatus != constants.OrderStatusConfirmed || confirmed.Version != stale+2 {
		t.Fatalf("unexpected confirmed order: %+v", confirmed)
	}
}

func TestCheckoutDeclinedPaymentCanBeRetried(t *testing.T) {
	f := newServiceFixture(t, "order_decline_retry")
	cart, stock := prepareCheckoutCart(t, f, 19)
	f.gateway.err = payment.ErrDeclined

	result := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 19))
	if !errors.Is(result.PaymentError, ErrPaymentProcessing) {
		t.Fatalf("decline should surface as payment processing error, got %v", result.PaymentError)
	}
	if result.Order.PaymentStatus != constants.PaymentStatusFailed || result.Order.OrderStatus != constants.OrderStatusPending {
		t.Fatalf("declined order should be PENDING with FAILED payment: %s/%s", result.Order.OrderStatus, result.Order.PaymentStatus)
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.CommittedQty != 1 {
		t.Fatalf("declined payment keeps inventory committed: %+v", reloaded)
	}

	f.gateway.err = nil
	f.gateway.status = constants.PaymentStatusCaptured
	retried, err := f.orders.RetryPayment(context.Background(), 19, result.Order.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.Order.PaymentStatus != constants.PaymentStatusCaptured || retried.Order.OrderStatus != constants.OrderStatusConfirmed {
		t.Fatalf("retry should capture and confirm: %s/%s", retried.Order.OrderStatus, retried.Order.PaymentStatus)
	}
	if !strings.HasSuffix(f.gateway.lastReq.IdempotencyKey, "-v3") {
		t.Fatalf("retry must use a fresh idempotency key, got %s", f.gateway.lastReq.IdempotencyKey)
	}
	if _, err := f.orders.RetryPayment(context.Background(), 19, result.Order.ID); !errors.Is(err, ErrPaymentRetryNotAllowed) {
		t.Fatalf("retry after capture should be refused, got %v", err)
	}
}

func TestCheckoutFraudMarksPaymentFailed(t *testing.T) {
	f := newServiceFixture(t, "order_fraud")
	cart, _ := prepareCheckoutCart(t, f, 20)
	f.gateway.err = payment.ErrFraudSuspected

	result := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 20))
	if !errors.Is(result.PaymentError, ErrFraudDetected) {
		t.Fatalf("expected fraud error, got %v", result.PaymentError)
	}
	if result.Order.PaymentStatus != constants.PaymentStatusFailed {
		t.Fatalf("fraud should fail the payment, got %s", result.Order.PaymentStatus)
	}
}

func TestCheckoutGatewayTimeoutReconciles(t *testing.T) {
	f := newServiceFixture(t, "order_timeout")
	cart, _ := prepareCheckoutCart(t, f, 21)
	f.gateway.delay = time.Second

	result := checkoutOrFail(t, f, testCheckoutInput(cart.ID, 21))
	if !errors.Is(result.PaymentError, ErrPaymentGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", result.PaymentError)
	}
	if result.Order.PaymentStatus != constants.PaymentStatusPending || result.Order.PaymentIntentID != "" {
		t.Fatalf("timeout keeps payment pending without intent: %+v", result.Order)
	}

	f.gateway.delay = 0
	f.gateway.status = constants.PaymentStatusAuthorized
	outcome, err := f.orders.ReconcilePayment(context.Background(), result.Order.ID, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome == nil || outcome.Result != constants.PaymentEventResultApplied {
		t.Fatalf("reconcile should apply the authorization: %+v", outcome)
	}
	current, err := f.orders.GetOrder(context.Background(), result.Order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.PaymentStatus != constants.PaymentStatusAuthorized || current.OrderStatus != constants.OrderStatusConfirmed {
		t.Fatalf("unexpected status after reconcile: %s/%s", current.OrderStatus, current.PaymentStatus)
	}
	if current.PaymentIntentID != "pi_"+current.OrderNo+"-v1" {
		t.Fatalf("reconcile should reuse the original idempotency key, got %s", current.PaymentIntentID)
	}
	if noop, err := f.orders.ReconcilePayment(context.Background(), result.Order.ID, 1); err != nil || noop != nil {
		t.Fatalf("settled order should not reconcile again: %+v %v", noop, err)
	}
}

func TestListUserOrdersScopesByUser(t *testing.T) {
	f := newServiceFixture(t, "order_list")
	cart, _ := prepareCheckoutCart(t, f, 22)
	checkoutOrFail(t, f, testCheckoutInput(cart.ID, 22))

	orders, total, err := f.orders.ListUserOrders(context.Background(), repository.OrderListFilter{UserID: 22})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(orders) != 1 {
		t.Fatalf("want one order, got %d (%d)", len(orders), total)
	}
	others, total, err := f.orders.ListUserOrders(context.Background(), repository.OrderListFilter{UserID: 23})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 || len(others) != 0 {
		t.Fatalf("other user should see nothing, got %d", total)
	}
}
