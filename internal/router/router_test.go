package router

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		JWT:       config.JWTConfig{SecretKey: "router-test-secret-0123456789"},
		Inventory: config.InventoryConfig{ReservationTTLMinutes: 20},
		Cart:      config.CartConfig{TTLHours: 72, MaxItemQuantity: 5},
		Pricing:   config.PricingConfig{Currency: "USD", TaxRate: 0.08},
		Payment:   config.PaymentConfig{Provider: "manual"},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	container, err := provider.NewContainerWithDB(cfg, db, nil)
	if err != nil {
		t.Fatalf("build container failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })
	return SetupRouter(cfg, container), cfg
}

func TestSetupRouterGuardsAdminRoutes(t *testing.T) {
	r, cfg := setupTestRouter(t)

	serve := func(token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		r.ServeHTTP(w, req)
		return decodeStatusCode(t, w)
	}

	if code := serve(""); code != 401 {
		t.Fatalf("missing token want 401 got %d", code)
	}
	if code := serve(signToken(t, cfg.JWT.SecretKey, Claims{UserID: 5, Role: RoleUser})); code != 403 {
		t.Fatalf("user token want 403 got %d", code)
	}
	if code := serve(signToken(t, cfg.JWT.SecretKey, Claims{UserID: 1, Role: RoleAdmin})); code != 0 {
		t.Fatalf("admin token want 0 got %d", code)
	}
}

func TestSetupRouterCartSessionAndMetrics(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if code := decodeStatusCode(t, w); code != 0 {
		t.Fatalf("anonymous cart want 0 got %d", code)
	}
	if w.Header().Get("X-Cart-Session") == "" {
		t.Fatalf("anonymous cart should issue a session header")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`)))
	if code := decodeStatusCode(t, w); code != 401 {
		t.Fatalf("checkout without login want 401 got %d", code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(w.Body.String(), `"database":"ok"`) || !strings.Contains(w.Body.String(), `"redis":"disabled"`) {
		t.Fatalf("unexpected health body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `route="/api/v1/cart"`) {
		t.Fatalf("metrics should include cart route, got:\n%s", w.Body.String())
	}
}

func TestSetupRouterRoleScopedAdminAccess(t *testing.T) {
	r, cfg := setupTestRouter(t)
	support := signToken(t, cfg.JWT.SecretKey, Claims{UserID: 8, Role: "support"})

	serve := func(method, path, body string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+support)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return decodeStatusCode(t, w)
	}

	if code := serve(http.MethodGet, "/api/v1/admin/orders", ""); code != 0 {
		t.Fatalf("support should list orders, got %d", code)
	}
	if code := serve(http.MethodPut, "/api/v1/admin/stock/1", `{"total_stock":3}`); code != 403 {
		t.Fatalf("support should not change stock, got %d", code)
	}
	if code := serve(http.MethodPost, "/api/v1/admin/authz/roles/support/policies", `{"object":"/admin/*","action":"*"}`); code != 403 {
		t.Fatalf("support should not grant policies, got %d", code)
	}
}

func TestSetupRouterStripeWebhookRoute(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook/stripe", strings.NewReader(`{}`)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("webhook without stripe config want 503 got %d", w.Code)
	}
	if code := decodeStatusCode(t, w); code != 500 {
		t.Fatalf("webhook without stripe config want status_code 500 got %d", code)
	}
}
