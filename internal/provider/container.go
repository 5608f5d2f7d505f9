package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/authz"
	"github.com/motorcart-next/internal/cache"
	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/events"
	"github.com/motorcart-next/internal/logger"
	"github.com/motorcart-next/internal/metrics"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/payment/stripe"
	"github.com/motorcart-next/internal/queue"
	"github.com/motorcart-next/internal/repository"
	"github.com/motorcart-next/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Store       *cache.Store
	QueueClient *queue.Client
	Gateway     payment.Gateway
	// StripeWebhook 仅在 provider=stripe 时有效
	StripeWebhook stripe.Config
	Hub           *events.Hub
	Publisher     *events.Publisher
	Authz         *authz.Service

	// Repositories
	CartRepo                 repository.CartRepository
	VehicleRepo              repository.VehicleRepository
	StockItemRepo            repository.StockItemRepository
	InventoryReservationRepo repository.InventoryReservationRepository
	PromotionalCodeRepo      repository.PromotionalCodeRepository
	OrderRepo                repository.OrderRepository
	PaymentEventRepo         repository.PaymentEventRepository
	AuditLogRepo             repository.AuditLogRepository

	// Services
	AuditSink        service.AuditSink
	Pricing          *service.PricingCalculator
	Promotions       *service.PromotionRegistry
	StateMachine     *service.OrderStateMachine
	InventoryService *service.InventoryService
	CartService      *service.CartService
	OrderService     *service.OrderService
}

// NewContainer 初始化容器，数据库不可用时直接返回错误
func NewContainer(cfg *config.Config, base *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("provider: config is nil")
	}
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, strings.EqualFold(cfg.Server.Mode, "debug"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		_ = models.CloseDB(db)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	c, err := NewContainerWithDB(cfg, db, base)
	if err != nil {
		_ = models.CloseDB(db)
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB 基于已迁移的数据库组装容器
func NewContainerWithDB(cfg *config.Config, db *gorm.DB, base *zap.Logger) (*Container, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("provider: config and db are required")
	}
	if base == nil {
		base = zap.NewNop()
	}
	log := logger.Component(base, "provider")

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: base,
		Store:  cache.NewStore(&cfg.Redis),
	}
	if cfg.Metrics.Enabled {
		c.Metrics = metrics.New()
	}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		log.Errorw("provider_init_queue_client_failed", "error", err)
	} else {
		c.QueueClient = queueClient
	}

	if err := c.initGateway(); err != nil {
		_ = c.closeExternal()
		return nil, err
	}
	c.initEvents(log)

	authzService, err := authz.NewService(db)
	if err != nil {
		_ = c.closeExternal()
		return nil, fmt.Errorf("init authz: %w", err)
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		_ = c.closeExternal()
		return nil, fmt.Errorf("bootstrap authz roles: %w", err)
	}
	c.Authz = authzService

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initGateway() error {
	switch strings.ToLower(strings.TrimSpace(c.Config.Payment.Provider)) {
	case "", "manual":
		c.Gateway = payment.NewManualGateway()
	case "stripe":
		c.StripeWebhook = stripe.Config{
			SecretKey:     c.Config.Payment.Stripe.SecretKey,
			WebhookSecret: c.Config.Payment.Stripe.WebhookSecret,
			CaptureMethod: c.Config.Payment.Stripe.CaptureMethod,
			APIBaseURL:    c.Config.Payment.Stripe.APIBase,
		}
		gateway, err := stripe.New(c.StripeWebhook)
		if err != nil {
			return fmt.Errorf("init stripe gateway: %w", err)
		}
		c.Gateway = gateway
	default:
		return fmt.Errorf("%w: unsupported provider %s", payment.ErrConfigInvalid, c.Config.Payment.Provider)
	}
	return nil
}

func (c *Container) initEvents(log *zap.SugaredLogger) {
	c.Hub = events.NewHub(c.Config.CORS.AllowedOrigins, logger.Component(c.Logger, "order_stream"))
	publisher, err := events.NewPublisher(c.Config.Events, logger.Component(c.Logger, "event_publisher"))
	switch {
	case errors.Is(err, events.ErrPublisherDisabled):
	case err != nil:
		log.Warnw("provider_init_event_publisher_failed", "error", err)
	default:
		c.Publisher = publisher
	}
}

func (c *Container) initRepositories() {
	db := c.DB
	c.CartRepo = repository.NewCartRepository(db)
	c.VehicleRepo = repository.NewVehicleRepository(db)
	c.StockItemRepo = repository.NewStockItemRepository(db)
	c.InventoryReservationRepo = repository.NewInventoryReservationRepository(db)
	c.PromotionalCodeRepo = repository.NewPromotionalCodeRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.PaymentEventRepo = repository.NewPaymentEventRepository(db)
	c.AuditLogRepo = repository.NewAuditLogRepository(db)
}

func (c *Container) initServices() {
	cfg := c.Config
	sinks := service.MultiAuditSink{service.NewDBAuditSink(c.AuditLogRepo), c.Hub}
	if c.Publisher != nil {
		sinks = append(sinks, c.Publisher)
	}
	c.AuditSink = sinks

	tax := service.NewTaxPolicy(cfg.Pricing.TaxRate, cfg.Pricing.RegionTaxRates)
	locker := cache.NewLocker(c.Store, cfg.Cart.LockTTL())
	deduper := cache.NewDeduper(c.Store, time.Duration(cfg.Payment.EventDedupTTLHours)*time.Hour)

	c.Pricing = service.NewPricingCalculator()
	c.Promotions = service.NewPromotionRegistry(c.DB, c.PromotionalCodeRepo)
	c.StateMachine = service.NewOrderStateMachine()

	c.InventoryService = service.NewInventoryService(c.DB, c.StockItemRepo, c.InventoryReservationRepo, c.AuditSink, c.Metrics,
		logger.Component(c.Logger, "inventory"), service.SystemClock, service.InventoryOptions{
			ReservationTTL:           cfg.Inventory.ReservationTTL(),
			SweepBatchSize:           cfg.Inventory.SweepBatchSize,
			DefaultLowStockThreshold: cfg.Inventory.DefaultLowStockThreshold,
		})
	c.CartService = service.NewCartService(c.DB, c.CartRepo, c.VehicleRepo, c.StockItemRepo, c.InventoryService, c.Pricing, c.Promotions, locker, c.AuditSink,
		logger.Component(c.Logger, "cart"), service.SystemClock, service.CartOptions{
			TTL:             cfg.Cart.TTL(),
			MaxItemQuantity: cfg.Cart.MaxItemQuantity,
			Currency:        cfg.Pricing.Currency,
			PurgeBatchSize:  cfg.Cart.PurgeBatchSize,
			Tax:             tax,
		})

	orderLog := logger.Component(c.Logger, "order")
	c.OrderService = service.NewOrderService(c.DB, c.OrderRepo, c.CartRepo, c.VehicleRepo, c.StockItemRepo, c.PaymentEventRepo,
		c.InventoryService, c.Pricing, c.Promotions, c.StateMachine, c.Gateway, locker, c.QueueClient, deduper,
		service.NewLogNotifier(logger.Component(c.Logger, "notify")), c.AuditSink, c.Metrics, orderLog, service.SystemClock, service.OrderOptions{
			Currency:             cfg.Pricing.Currency,
			Tax:                  tax,
			TotalTolerance:       decimal.NewFromFloat(cfg.Order.TotalTolerance),
			RereserveExpired:     cfg.Order.RereserveExpiredOnCheckout,
			PaymentTimeout:       cfg.Payment.Timeout(),
			ReconcileDelay:       cfg.Payment.ReconcileDelay(),
			ReconcileMaxAttempts: cfg.Payment.ReconcileMaxAttempts,
		})
}

// Close 释放外部连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.closeExternal(), models.CloseDB(c.DB))
}

func (c *Container) closeExternal() error {
	var errs []error
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Publisher != nil {
		errs = append(errs, c.Publisher.Close())
	}
	if c.QueueClient != nil {
		errs = append(errs, c.QueueClient.Close())
	}
	errs = append(errs, c.Store.Close())
	return errors.Join(errs...)
}
