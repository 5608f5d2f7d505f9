package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"

	"github.com/shopspring/decimal"
)

func TestCartAddItemMergesSameVehicleLine(t *testing.T) {
	f := newServiceFixture(t, "cart_add_merge")
	vehicle, configuration, stock := seedVehicle(t, f.db, "35000", "5000", 5)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	input := AddCartItemInput{VehicleID: vehicle.ID, ConfigurationID: configuration.ID, Quantity: 1}
	if _, err := f.carts.AddItem(ctx, cart.ID, input); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	input.Quantity = 2
	cart, err = f.carts.AddItem(ctx, cart.ID, input)
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("same line should merge into one item of 3: %+v", cart.Items)
	}
	if !cart.Items[0].UnitPrice.Decimal.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("unit price should include configuration delta, got %s", cart.Items[0].UnitPrice.String())
	}
	if !cart.Subtotal.Decimal.Equal(decimal.NewFromInt(120000)) || cart.ItemCount != 3 {
		t.Fatalf("unexpected cart totals: subtotal=%s count=%d", cart.Subtotal.String(), cart.ItemCount)
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.ReservedQty != 3 {
		t.Fatalf("want 3 reserved, got %+v", reloaded)
	}
}

func TestCartAddItemValidatesQuantity(t *testing.T) {
	f := newServiceFixture(t, "cart_add_quantity")
	vehicle, _, _ := seedVehicle(t, f.db, "35000", "", 20)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: 7})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	for _, quantity := range []int{0, -1, 11} {
		if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: quantity}); !errors.Is(err, ErrCartItemQuantityInvalid) {
			t.Fatalf("quantity %d should be rejected, got %v", quantity, err)
		}
	}
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: 9999, Quantity: 1}); !errors.Is(err, ErrVehicleNotAvailable) {
		t.Fatalf("unknown vehicle should be rejected, got %v", err)
	}
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 8}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 3}); !errors.Is(err, ErrCartItemQuantityInvalid) {
		t.Fatalf("merged quantity above cap should be rejected, got %v", err)
	}
}

func TestCartUpdateItemKeepsQuantityWhenStockShort(t *testing.T) {
	f := newServiceFixture(t, "cart_update_short")
	vehicle, _, stock := seedVehicle(t, f.db, "35000", "", 3)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: 7})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	cart, err = f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	itemID := cart.Items[0].ID

	_, err = f.carts.UpdateItem(ctx, cart.ID, itemID, 5)
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	cart, err = f.carts.GetCart(ctx, cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("failed update must keep quantity 2, got %d", cart.Items[0].Quantity)
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.ReservedQty != 2 {
		t.Fatalf("reserved counter changed: %+v", reloaded)
	}

	cart, err = f.carts.UpdateItem(ctx, cart.ID, itemID, 0)
	if err != nil {
		t.Fatalf("update to zero failed: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("quantity 0 should remove the item")
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.ReservedQty != 0 {
		t.Fatalf("removal should release reservation: %+v", reloaded)
	}
	if _, err := f.carts.RemoveItem(ctx, cart.ID, itemID); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestCartMutationRefreshesReservationTTL(t *testing.T) {
	f := newServiceFixture(t, "cart_ttl_refresh")
	vehicle, _, _ := seedVehicle(t, f.db, "35000", "", 5)
	other, _, _ := seedVehicle(t, f.db, "28000", "", 5)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-ttl"})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	cart, err = f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	reservationID := cart.Items[0].ReservationID

	f.clock.Advance(15 * time.Minute)
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: other.ID, Quantity: 1}); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	reservation, err := f.inventory.GetReservation(ctx, reservationID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	want := f.clock.Now().Add(20 * time.Minute)
	if !reservation.ExpiresAt.Equal(want) {
		t.Fatalf("reservation should be pushed to %s, got %s", want, reservation.ExpiresAt)
	}

	f.clock.Advance(10 * time.Minute)
	cart, err = f.carts.GetCart(ctx, cart.ID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if !cart.ExpiresAt.After(f.clock.Now()) {
		t.Fatalf("cart should still be active")
	}
	if _, err := f.inventory.Commit(ctx, reservationID, 1); err != nil {
		t.Fatalf("refreshed reservation should still be live: %v", err)
	}
}

func TestCartMigrateSessionToUserTransfersWhenUserHasNoCart(t *testing.T) {
	f := newServiceFixture(t, "cart_migrate_transfer")
	vehicle, _, stock := seedVehicle(t, f.db, "35000", "", 5)
	ctx := context.Background()

	sessionCart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-guest"})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, sessionCart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 2}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result, err := f.carts.MigrateSessionToUser(ctx, "sess-guest", 21)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if result.Merged || result.Cart.ID != sessionCart.ID || result.Cart.UserID != 21 {
		t.Fatalf("session cart should be handed over: %+v", result)
	}
	if len(result.Cart.Items) != 1 || result.Cart.Items[0].Quantity != 2 {
		t.Fatalf("items should survive transfer: %+v", result.Cart.Items)
	}
	if reloaded := reloadStock(t, f.db, stock.ID); reloaded.ReservedQty != 2 {
		t.Fatalf("transfer must keep reservations: %+v", reloaded)
	}
}

func TestCartMigrateSessionToUserMergesAndReportsDrops(t *testing.T) {
	f := newServiceFixture(t, "cart_migrate_merge")
	shared, _, sharedStock := seedVehicle(t, f.db, "35000", "", 20)
	single, _, singleStock := seedVehicle(t, f.db, "52000", "", 2)
	capped, _, cappedStock := seedVehicle(t, f.db, "18000", "", 20)
	ctx := context.Background()

	userCart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: 21})
	if err != nil {
		t.Fatalf("create user cart failed: %v", err)
	}
	for _, input := range []AddCartItemInput{
		{VehicleID: shared.ID, Quantity: 1},
		{VehicleID: capped.ID, Quantity: 6},
	} {
		if _, err := f.carts.AddItem(ctx, userCart.ID, input); err != nil {
			t.Fatalf("user add failed: %v", err)
		}
	}
	sessionCart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-merge"})
	if err != nil {
		t.Fatalf("create session cart failed: %v", err)
	}
	for _, input := range []AddCartItemInput{
		{VehicleID: shared.ID, Quantity: 2},
		{VehicleID: single.ID, Quantity: 1},
		{VehicleID: capped.ID, Quantity: 5},
	} {
		if _, err := f.carts.AddItem(ctx, sessionCart.ID, input); err != nil {
			t.Fatalf("session add failed: %v", err)
		}
	}

	result, err := f.carts.MigrateSessionToUser(ctx, "sess-merge", 21)
	if !errors.Is(err, ErrCartService) {
		t.Fatalf("dropped items should surface a cart service error, got %v", err)
	}
	if result == nil || !result.Merged || len(result.Dropped) != 1 {
		t.Fatalf("want one dropped line, got %+v", result)
	}
	if drop := result.Dropped[0]; drop.VehicleID != capped.ID || drop.Reason != "quantity_limit" {
		t.Fatalf("unexpected drop: %+v", drop)
	}
	quantities := map[uint]int{}
	for _, item := range result.Cart.Items {
		quantities[item.VehicleID] = item.Quantity
	}
	if quantities[shared.ID] != 3 || quantities[single.ID] != 1 || quantities[capped.ID] != 6 {
		t.Fatalf("unexpected merged quantities: %+v", quantities)
	}

	var merged models.Cart
	if err := f.db.First(&merged, sessionCart.ID).Error; err != nil {
		t.Fatalf("reload session cart failed: %v", err)
	}
	if merged.Status != constants.CartStatusMerged {
		t.Fatalf("session cart should be marked merged, got %s", merged.Status)
	}
	if got := reloadStock(t, f.db, sharedStock.ID).ReservedQty; got != 3 {
		t.Fatalf("shared stock reserved %d, want 3", got)
	}
	if got := reloadStock(t, f.db, singleStock.ID).ReservedQty; got != 1 {
		t.Fatalf("single stock reserved %d, want 1", got)
	}
	if got := reloadStock(t, f.db, cappedStock.ID).ReservedQty; got != 6 {
		t.Fatalf("dropped line must release its hold, reserved %d", got)
	}
}

func TestCartMigrateSessionToUserRestoresLapsedUserLine(t *testing.T) {
	f := newServiceFixture(t, "cart_migrate_lapsed")
	vehicle, _, stock := seedVehicle(t, f.db, "41000", "", 3)
	ctx := context.Background()

	userCart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: 31})
	if err != nil {
		t.Fatalf("create user cart failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, userCart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 2}); err != nil {
		t.Fatalf("user add failed: %v", err)
	}
	f.clock.Advance(30 * time.Minute)

	sessionCart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-lapsed"})
	if err != nil {
		t.Fatalf("create session cart failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, sessionCart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 2}); err != nil {
		t.Fatalf("session add failed: %v", err)
	}

	result, err := f.carts.MigrateSessionToUser(ctx, "sess-lapsed", 31)
	if !errors.Is(err, ErrCartService) {
		t.Fatalf("merge beyond stock should report drops, got %v", err)
	}
	if result == nil || len(result.Dropped) != 1 || result.Dropped[0].Quantity != 2 {
		t.Fatalf("only the session line should be dropped, got %+v", result)
	}
	if len(result.Cart.Items) != 1 || result.Cart.Items[0].Quantity != 2 {
		t.Fatalf("user line should keep its quantity: %+v", result.Cart.Items)
	}
	reservation, err := f.inventory.GetReservation(ctx, result.Cart.Items[0].ReservationID)
	if err != nil {
		t.Fatalf("get reservation failed: %v", err)
	}
	if !reservation.IsLive(f.clock.Now()) || reservation.Quantity != 2 {
		t.Fatalf("user line should hold a live reservation again: %+v", reservation)
	}
	if got := reloadStock(t, f.db, stock.ID).ReservedQty; got != 2 {
		t.Fatalf("reserved %d, want 2", got)
	}
}

func TestCartQuoteMatchesCheckoutPricing(t *testing.T) {
	f := newServiceFixture(t, "cart_quote")
	vehicle, configuration, _ := seedVehicle(t, f.db, "35000", "5000", 5)
	seedFlatPromo(t, f.db, "SPRING1000", "1000")
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{UserID: 3})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, ConfigurationID: configuration.ID, Quantity: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := f.carts.ApplyPromo(ctx, cart.ID, "spring1000"); err != nil {
		t.Fatalf("apply promo failed: %v", err)
	}
	if _, err := f.carts.ApplyPromo(ctx, cart.ID, "NOPE"); !errors.Is(err, ErrInvalidPromotionalCode) {
		t.Fatalf("unknown code should be rejected, got %v", err)
	}

	quote, err := f.carts.Quote(ctx, cart.ID, "CA")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.PromoError != "" {
		t.Fatalf("promo should still apply: %s", quote.PromoError)
	}
	want := map[string]string{
		"subtotal": "40000",
		"discount": "1000",
		"tax":      "3120",
		"total":    "42120",
	}
	got := map[string]decimal.Decimal{
		"subtotal": quote.Breakdown.Subtotal.Decimal,
		"discount": quote.Breakdown.Discount.Decimal,
		"tax":      quote.Breakdown.Tax.Decimal,
		"total":    quote.Breakdown.Total.Decimal,
	}
	for key, value := range want {
		if !got[key].Equal(decimal.RequireFromString(value)) {
			t.Fatalf("%s: want %s, got %s", key, value, got[key].String())
		}
	}
}

func TestCartPurgeExpiredReleasesReservations(t *testing.T) {
	f := newServiceFixture(t, "cart_purge")
	vehicle, _, stock := seedVehicle(t, f.db, "35000", "", 5)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-idle"})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 2}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// 不挂在任何购物车项上的预占
	orphan, err := f.inventory.Reserve(ctx, stock.ID, 1, cart.HolderKey())
	if err != nil {
		t.Fatalf("orphan reserve failed: %v", err)
	}
	if _, err := f.inventory.Extend(ctx, orphan.ID, 80*time.Hour); err != nil {
		t.Fatalf("extend orphan failed: %v", err)
	}

	f.clock.Advance(73 * time.Hour)
	if _, err := f.carts.AddItem(ctx, cart.ID, AddCartItemInput{VehicleID: vehicle.ID, Quantity: 1}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expired cart should reject mutations, got %v", err)
	}
	purged, err := f.carts.PurgeExpired(ctx, 10)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("want 1 purged cart, got %d", purged)
	}
	var reloaded models.Cart
	if err := f.db.First(&reloaded, cart.ID).Error; err != nil {
		t.Fatalf("reload cart failed: %v", err)
	}
	if reloaded.Status != constants.CartStatusExpired || reloaded.ActiveOwner != nil {
		t.Fatalf("cart should be expired and free its owner slot: %+v", reloaded)
	}
	if got := reloadStock(t, f.db, stock.ID).ReservedQty; got != 0 {
		t.Fatalf("purge should return reserved units, got %d", got)
	}
	stored, err := f.inventory.GetReservation(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("get orphan failed: %v", err)
	}
	if stored.Status != constants.ReservationStatusReleased {
		t.Fatalf("live orphan reservation should be released, got %s", stored.Status)
	}

	fresh, err := f.carts.GetOrCreateCart(ctx, CartOwner{SessionID: "sess-idle"})
	if err != nil {
		t.Fatalf("recreate cart failed: %v", err)
	}
	if fresh.ID == cart.ID {
		t.Fatalf("expired cart must not be reused")
	}
}
