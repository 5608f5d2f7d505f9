package public

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/motorcart-next/internal/config"
	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type apiResponse struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
}

func setupPublicHandler(t *testing.T) (*Handler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:public_handler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "release"},
		Inventory: config.InventoryConfig{ReservationTTLMinutes: 20, SweepBatchSize: 50},
		Cart:      config.CartConfig{TTLHours: 72, MaxItemQuantity: 5, PurgeBatchSize: 50},
		Pricing:   config.PricingConfig{Currency: "USD", TaxRate: 0.08},
		Order:     config.OrderConfig{TotalTolerance: 0.01},
		Payment:   config.PaymentConfig{Provider: "manual", TimeoutSeconds: 2, ReconcileMaxAttempts: 2},
	}
	container, err := provider.NewContainerWithDB(cfg, db, nil)
	if err != nil {
		t.Fatalf("build container failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })
	return New(container), db
}

// withUser 模拟认证中间件写入的身份
func withUser(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != 0 {
			c.Set(handlershared.ContextKeyUserID, userID)
			c.Set(handlershared.ContextKeyRole, "user")
		}
		c.Next()
	}
}

func newPublicEngine(h *Handler, userID uint) *gin.Engine {
	r := gin.New()
	r.Use(withUser(userID))
	r.GET("/cart", h.GetCart)
	r.POST("/cart/items", h.AddCartItem)
	r.PATCH("/cart/items/:id", h.UpdateCartItem)
	r.POST("/cart/promo", h.ApplyCartPromo)
	r.GET("/cart/quote", h.QuoteCart)
	r.POST("/cart/migrate", h.MigrateCart)
	r.POST("/orders", h.Checkout)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.GET("/inventory/:stock_item_id", h.GetAvailability)
	r.POST("/webhooks/stripe", h.HandleStripeWebhook)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, w.Body.String())
	}
	return w, resp
}

func seedStock(t *testing.T, db *gorm.DB, price string, stock int) (*models.Vehicle, *models.StockItem) {
	t.Helper()
	vehicle := &models.Vehicle{Make: "Rivera", Model: "Tourer", Year: 2026, BasePrice: models.NewMoney(decimal.RequireFromString(price)), Currency: "USD", IsActive: true}
	if err := db.Create(vehicle).Error; err != nil {
		t.Fatalf("create vehicle failed: %v", err)
	}
	item := &models.StockItem{VehicleID: vehicle.ID, TotalStock: stock}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("create stock item failed: %v", err)
	}
	return vehicle, item
}

func TestAnonymousCartIssuesSession(t *testing.T) {
	h, db := setupPublicHandler(t)
	vehicle, item := seedStock(t, db, "42000", 2)
	r := newPublicEngine(h, 0)

	w, resp := doRequest(t, r, http.MethodPost, "/cart/items", gin.H{"vehicle_id": vehicle.ID, "quantity": 1}, nil)
	if resp.StatusCode != 0 {
		t.Fatalf("add item failed: %+v", resp)
	}
	session := w.Header().Get(CartSessionHeader)
	if session == "" {
		t.Fatalf("anonymous request should receive a cart session")
	}

	_, resp = doRequest(t, r, http.MethodGet, "/cart", nil, map[string]string{CartSessionHeader: session})
	var cart models.Cart
	if err := json.Unmarshal(resp.Data, &cart); err != nil {
		t.Fatalf("decode cart failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 1 {
		t.Fatalf("session cart should keep the item: %+v", cart.Items)
	}

	_, resp = doRequest(t, r, http.MethodGet, fmt.Sprintf("/inventory/%d", item.ID), nil, nil)
	var availability struct {
		Available int `json:"available"`
		Reserved  int `json:"reserved"`
	}
	if err := json.Unmarshal(resp.Data, &availability); err != nil {
		t.Fatalf("decode availability failed: %v", err)
	}
	if availability.Available != 1 || availability.Reserved != 1 {
		t.Fatalf("cart item should hold one unit: %+v", availability)
	}
}

func TestAddCartItemInsufficientInventory(t *testing.T) {
	h, db := setupPublicHandler(t)
	vehicle, item := seedStock(t, db, "42000", 1)
	r := newPublicEngine(h, 7)

	_, resp := doRequest(t, r, http.MethodPost, "/cart/items", gin.H{"vehicle_id": vehicle.ID, "quantity": 2}, nil)
	if resp.StatusCode != response.CodeConflict {
		t.Fatalf("shortage should be 409, got %+v", resp)
	}
	var detail struct {
		StockItemID uint `json:"stock_item_id"`
		Requested   int  `json:"requested"`
		Available   int  `json:"available"`
	}
	if err := json.Unmarshal(resp.Data, &detail); err != nil {
		t.Fatalf("decode shortage failed: %v", err)
	}
	if detail.StockItemID != item.ID || detail.Requested != 2 || detail.Available != 1 {
		t.Fatalf("unexpected shortage detail: %+v", detail)
	}

	_, resp = doRequest(t, r, http.MethodPost, "/cart/items", gin.H{"vehicle_id": vehicle.ID}, nil)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("missing quantity should be rejected, got %+v", resp)
	}
}

func checkoutBody() gin.H {
	return gin.H{
		"customer_info":    gin.H{"name": "Dana Reyes", "email": "dana@example.com"},
		"delivery_address": gin.H{"line1": "1 Harbor Way", "city": "Oakland", "region": "CA", "country": "US"},
		"payment_method":   "manual",
	}
}

func TestCheckoutRequiresLogin(t *testing.T) {
	h, _ := setupPublicHandler(t)
	r := newPublicEngine(h, 0)
	_, resp := doRequest(t, r, http.MethodPost, "/orders", checkoutBody(), nil)
	if resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("anonymous checkout should be 401, got %+v", resp)
	}
}

func TestCheckoutIdempotentAndCancel(t *testing.T) {
	h, db := setupPublicHandler(t)
	vehicle, item := seedStock(t, db, "42000", 1)
	r := newPublicEngine(h, 11)

	if _, resp := doRequest(t, r, http.MethodPost, "/orders", checkoutBody(), nil); resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("empty cart checkout should be rejected, got %+v", resp)
	}
	if _, resp := doRequest(t, r, http.MethodPost, "/cart/items", gin.H{"vehicle_id": vehicle.ID, "quantity": 1}, nil); resp.StatusCode != 0 {
		t.Fatalf("add item failed: %+v", resp)
	}

	headers := map[string]string{IdempotencyKeyHeader: "chk-001"}
	_, resp := doRequest(t, r, http.MethodPost, "/orders", checkoutBody(), headers)
	if resp.StatusCode != 0 {
		t.Fatalf("checkout failed: %+v", resp)
	}
	var first struct {
		Order    models.Order `json:"order"`
		Replayed bool         `json:"replayed"`
	}
	if err := json.Unmarshal(resp.Data, &first); err != nil {
		t.Fatalf("decode checkout failed: %v", err)
	}
	if first.Order.OrderStatus != "PENDING" || !first.Order.TotalAmount.Equal(decimal.RequireFromString("45360")) {
		t.Fatalf("unexpected order: status=%s total=%s", first.Order.OrderStatus, first.Order.TotalAmount.String())
	}

	_, resp = doRequest(t, r, http.MethodPost, "/orders", checkoutBody(), headers)
	var replay struct {
		Order    models.Order `json:"order"`
		Replayed bool         `json:"replayed"`
	}
	if err := json.Unmarshal(resp.Data, &replay); err != nil {
		t.Fatalf("decode replay failed: %v", err)
	}
	if !replay.Replayed || replay.Order.ID != first.Order.ID {
		t.Fatalf("same idempotency key should replay the order: %+v", replay)
	}

	var stock models.StockItem
	if err := db.First(&stock, item.ID).Error; err != nil {
		t.Fatalf("reload stock failed: %v", err)
	}
	if stock.CommittedQty != 1 || stock.ReservedQty != 0 {
		t.Fatalf("checkout should commit the reservation: %+v", stock)
	}

	_, resp = doRequest(t, r, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", first.Order.ID), gin.H{"reason": "changed mind"}, nil)
	if resp.StatusCode != 0 {
		t.Fatalf("cancel failed: %+v", resp)
	}
	if err := db.First(&stock, item.ID).Error; err != nil {
		t.Fatalf("reload stock failed: %v", err)
	}
	if stock.CommittedQty != 0 {
		t.Fatalf("cancel should release committed stock: %+v", stock)
	}

	other := newPublicEngine(h, 12)
	if _, resp := doRequest(t, other, http.MethodGet, fmt.Sprintf("/orders/%d", first.Order.ID), nil, nil); resp.StatusCode != response.CodeNotFound {
		t.Fatalf("other users must not see the order, got %+v", resp)
	}
}

func signStripeBody(secret string, now time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(now.Unix(), 10) + "." + string(body)))
	return "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStripeWebhookStatusCodes(t *testing.T) {
	h, db := setupPublicHandler(t)
	r := newPublicEngine(h, 21)

	if w := postWebhook(r, []byte(`{}`), ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured webhook should be 503, got %d", w.Code)
	}

	h.StripeWebhook.WebhookSecret = "whsec_test"
	vehicle, _ := seedStock(t, db, "30000", 1)
	if _, resp := doRequest(t, r, http.MethodPost, "/cart/items", gin.H{"vehicle_id": vehicle.ID, "quantity": 1}, nil); resp.StatusCode != 0 {
		t.Fatalf("add item failed: %+v", resp)
	}
	_, resp := doRequest(t, r, http.MethodPost, "/orders", checkoutBody(), nil)
	var result struct {
		Order models.Order `json:"order"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil || result.Order.ID == 0 {
		t.Fatalf("checkout failed: %+v", resp)
	}

	body, _ := json.Marshal(gin.H{
		"id":   "evt_web_1",
		"type": "payment_intent.succeeded",
		"data": gin.H{"object": gin.H{
			"object":   "payment_intent",
			"id":       result.Order.PaymentIntentID,
			"metadata": gin.H{"order_id": strconv.FormatUint(uint64(result.Order.ID), 10)},
		}},
	})
	now := time.Now()

	if w := postWebhook(r, body, signStripeBody("whsec_wrong", now, body)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature should be 400, got %d", w.Code)
	}

	w := postWebhook(r, body, signStripeBody("whsec_test", now, body))
	if w.Code != http.StatusOK {
		t.Fatalf("valid webhook should be 200, got %d body=%s", w.Code, w.Body.String())
	}
	var order models.Order
	if err := db.First(&order, result.Order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if order.PaymentStatus != "CAPTURED" {
		t.Fatalf("payment should be captured, got %s", order.PaymentStatus)
	}

	w = postWebhook(r, body, signStripeBody("whsec_test", now, body))
	var replay struct {
		Data struct {
			Outcome struct {
				Duplicate bool `json:"duplicate"`
			} `json:"outcome"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay failed: %v", err)
	}
	if w.Code != http.StatusOK || !replay.Data.Outcome.Duplicate {
		t.Fatalf("replayed event should be acknowledged as duplicate: %d %s", w.Code, w.Body.String())
	}
}
