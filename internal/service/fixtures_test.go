package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/motorcart-next/internal/cache"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(_ context.Context, events []AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingSink) count(entityType, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.EntityType == entityType && event.Action == action {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	status  string
	err     error
	delay   time.Duration
	lastReq payment.IntentRequest
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	g.calls++
	g.lastReq = req
	status, err, delay := g.status, g.err, g.delay
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = "PENDING"
	}
	return &payment.Intent{ID: "pi_" + req.IdempotencyKey, Status: status}, nil
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, intentID string) (*payment.Intent, error) {
	return &payment.Intent{ID: intentID, Status: "CAPTURED"}, nil
}

func (g *fakeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Intent{ID: intentID, Status: g.status}, nil
}

type serviceFixture struct {
	db        *gorm.DB
	clock     *testClock
	sink      *recordingSink
	gateway   *fakeGateway
	stockRepo repository.StockItemRepository
	inventory *InventoryService
	carts     *CartService
	orders    *OrderService
}

func setupServiceTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
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
	return db
}

func newServiceFixture(t *testing.T, name string) *serviceFixture {
	t.Helper()
	db := setupServiceTestDB(t, name)
	clock := newTestClock()
	sink := &recordingSink{}
	gateway := &fakeGateway{}

	stockRepo := repository.NewStockItemRepository(db)
	reservationRepo := repository.NewInventoryReservationRepository(db)
	vehicleRepo := repository.NewVehicleRepository(db)
	cartRepo := repository.NewCartRepository(db)
	promoRepo := repository.NewPromotionalCodeRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)

	tax := NewTaxPolicy(0.08, nil)
	locker := cache.NewKeyedMutex()
	inventory := NewInventoryService(db, stockRepo, reservationRepo, sink, nil, nil, clock.Now, InventoryOptions{ReservationTTL: 20 * time.Minute})
	pricing := NewPricingCalculator()
	promotions := NewPromotionRegistry(db, promoRepo)
	carts := NewCartService(db, cartRepo, vehicleRepo, stockRepo, inventory, pricing, promotions, locker, sink, nil, clock.Now, CartOptions{
		TTL:             72 * time.Hour,
		MaxItemQuantity: 10,
		Currency:        "USD",
		Tax:             tax,
	})
	orders := NewOrderService(db, orderRepo, cartRepo, vehicleRepo, stockRepo, eventRepo, inventory, pricing, promotions, NewOrderStateMachine(), gateway, locker, nil, nil, nil, sink, nil, nil, clock.Now, OrderOptions{
		Currency:       "USD",
		Tax:            tax,
		PaymentTimeout: 200 * time.Millisecond,
	})
	return &serviceFixture{
		db:        db,
		clock:     clock,
		sink:      sink,
		gateway:   gateway,
		stockRepo: stockRepo,
		inventory: inventory,
		carts:     carts,
		orders:    orders,
	}
}

// seedVehicle 创建车型、可选配置与库存单元
func seedVehicle(t *testing.T, db *gorm.DB, basePrice string, priceDelta string, stock int) (*models.Vehicle, *models.VehicleConfiguration, *models.StockItem) {
	t.Helper()
	vehicle := &models.Vehicle{Make: "Rivera", Model: "Tourer", Year: 2026, BasePrice: models.NewMoney(decimal.RequireFromString(basePrice)), Currency: "USD", IsActive: true}
	if err := db.Create(vehicle).Error; err != nil {
		t.Fatalf("create vehicle failed: %v", err)
	}
	var configuration *models.VehicleConfiguration
	configurationID := uint(0)
	if priceDelta != "" {
		configuration = &models.VehicleConfiguration{VehicleID: vehicle.ID, Name: "Touring Pack", PriceDelta: models.NewMoney(decimal.RequireFromString(priceDelta)), IsActive: true}
		if err := db.Create(configuration).Error; err != nil {
			t.Fatalf("create configuration failed: %v", err)
		}
		configurationID = configuration.ID
	}
	stockItem := &models.StockItem{VehicleID: vehicle.ID, ConfigurationID: configurationID, TotalStock: stock}
	if err := db.Create(stockItem).Error; err != nil {
		t.Fatalf("create stock item failed: %v", err)
	}
	return vehicle, configuration, stockItem
}

func seedFlatPromo(t *testing.T, db *gorm.DB, code, amount string) *models.PromotionalCode {
	t.Helper()
	promo := &models.PromotionalCode{Code: code, RuleType: "flat", Value: models.NewMoney(decimal.RequireFromString(amount)), IsActive: true}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("create promo failed: %v", err)
	}
	return promo
}

func reloadStock(t *testing.T, db *gorm.DB, id uint) models.StockItem {
	t.Helper()
	var item models.StockItem
	if err := db.First(&item, id).Error; err != nil {
		t.Fatalf("reload stock item failed: %v", err)
	}
	return item
}

func testCheckoutInput(cartID, userID uint) CreateOrderInput {
	return CreateOrderInput{
		CartID:          cartID,
		UserID:          userID,
		CustomerInfo:    models.CustomerInfo{Name: "Dana Reyes", Email: "dana@example.com"},
		DeliveryAddress: models.DeliveryAddress{Line1: "1 Harbor Way", City: "Oakland", Region: "CA", Country: "US"},
		PaymentMethod:   "card",
	}
}
