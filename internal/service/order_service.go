package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/metrics"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/payment"
	"github.com/motorcart-next/internal/queue"
	"github.com/motorcart-next/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderTaskQueue 订单异步任务投递
type OrderTaskQueue interface {
	Enabled() bool
	EnqueueOrderStatusNotify(payload queue.OrderStatusNotifyPayload) error
	EnqueuePaymentReconcile(payload queue.PaymentReconcilePayload, delay time.Duration) error
}

// EventDeduper 支付事件快速去重
type EventDeduper interface {
	MarkOnce(ctx context.Context, scope, id string) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// OrderOptions 下单与支付参数
type OrderOptions struct {
	Currency             string
	Tax                  TaxPolicy
	TotalTolerance       decimal.Decimal
	RereserveExpired     bool
	PaymentTimeout       time.Duration
	ReconcileDelay       time.Duration
	ReconcileMaxAttempts int
}

// OrderService 订单服务
type OrderService struct {
	db               *gorm.DB
	orderRepo        repository.OrderRepository
	cartRepo         repository.CartRepository
	vehicleRepo      repository.VehicleRepository
	stockRepo        repository.StockItemRepository
	paymentEventRepo repository.PaymentEventRepository
	inventory        *InventoryService
	pricing          *PricingCalculator
	promotions       *PromotionRegistry
	stateMachine     *OrderStateMachine
	gateway          payment.Gateway
	locker           CartLocker
	tasks            OrderTaskQueue
	deduper          EventDeduper
	notifier         Notifier
	audit            AuditSink
	metrics          *metrics.Metrics
	log              *zap.SugaredLogger
	clock            Clock
	opts             OrderOptions
}

// NewOrderService 创建订单服务
func NewOrderService(db *gorm.DB, orderRepo repository.OrderRepository, cartRepo repository.CartRepository, vehicleRepo repository.VehicleRepository, stockRepo repository.StockItemRepository, paymentEventRepo repository.PaymentEventRepository, inventory *InventoryService, pricing *PricingCalculator, promotions *PromotionRegistry, stateMachine *OrderStateMachine, gateway payment.Gateway, locker CartLocker, tasks OrderTaskQueue, deduper EventDeduper, notifier Notifier, audit AuditSink, m *metrics.Metrics, log *zap.SugaredLogger, clock Clock, opts OrderOptions) *OrderService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	if stateMachine == nil {
		stateMachine = NewOrderStateMachine()
	}
	if pricing == nil {
		pricing = NewPricingCalculator()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.TotalTolerance.IsZero() {
		opts.TotalTolerance = decimal.NewFromFloat(0.01)
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 15 * time.Second
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = time.Minute
	}
	if opts.ReconcileMaxAttempts <= 0 {
		opts.ReconcileMaxAttempts = 5
	}
	return &OrderService{
		db:               db,
		orderRepo:        orderRepo,
		cartRepo:         cartRepo,
		vehicleRepo:      vehicleRepo,
		stockRepo:        stockRepo,
		paymentEventRepo: paymentEventRepo,
		inventory:        inventory,
		pricing:          pricing,
		promotions:       promotions,
		stateMachine:     stateMachine,
		gateway:          gateway,
		locker:           locker,
		tasks:            tasks,
		deduper:          deduper,
		notifier:         notifier,
		audit:            audit,
		metrics:          m,
		log:              log,
		clock:            clock,
		opts:             opts,
	}
}

// CreateOrderInput 购物车下单输入
type CreateOrderInput struct {
	CartID          uint
	UserID          uint
	Actor           string
	CustomerInfo    models.CustomerInfo
	DeliveryAddress models.DeliveryAddress
	PaymentMethod   string
	TradeIn         *models.TradeIn
	PromoCode       *string
	ExpectedTotal   *decimal.Decimal
	IdempotencyKey  string
}

// CheckoutResult 下单结果，PaymentError 非空表示订单已创建但支付未完成
type CheckoutResult struct {
	Order        *models.Order   `json:"order"`
	Payment      *payment.Intent `json:"payment,omitempty"`
	Replayed     bool            `json:"replayed"`
	PaymentError error           `json:"-"`
}

func (in *CreateOrderInput) normalize() error {
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.PaymentMethod = strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if in.PaymentMethod == "" {
		in.PaymentMethod = constants.PaymentMethodCard
	}
	in.CustomerInfo.Name = strings.TrimSpace(in.CustomerInfo.Name)
	in.CustomerInfo.Email = strings.TrimSpace(in.CustomerInfo.Email)
	switch {
	case in.CartID == 0 || in.UserID == 0:
		return fmt.Errorf("%w: cart and user are required", ErrOrderValidation)
	case in.CustomerInfo.Name == "" || !strings.Contains(in.CustomerInfo.Email, "@"):
		return fmt.Errorf("%w: customer name and email are required", ErrOrderValidation)
	case strings.TrimSpace(in.DeliveryAddress.Line1) == "" || strings.TrimSpace(in.DeliveryAddress.City) == "" || strings.TrimSpace(in.DeliveryAddress.Country) == "":
		return fmt.Errorf("%w: delivery address is incomplete", ErrOrderValidation)
	case in.PaymentMethod != constants.PaymentMethodCard && in.PaymentMethod != constants.PaymentMethodManual:
		return fmt.Errorf("%w: unsupported payment method %s", ErrOrderValidation, in.PaymentMethod)
	case len(in.IdempotencyKey) > 128:
		return fmt.Errorf("%w: idempotency key too long", ErrOrderValidation)
	}
	if in.Actor == "" {
		in.Actor = fmt.Sprintf("user:%d", in.UserID)
	}
	return nil
}

// CreateOrderFromCart 购物车转订单：预占提交、定价、落库、购物车转换在同一事务内完成
func (s *OrderService) CreateOrderFromCart(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error) {
	if err := input.normalize(); err != nil {
		s.metrics.ObserveCheckout("invalid")
		return nil, err
	}
	if input.IdempotencyKey != "" {
		if existing, err := s.replayOrder(ctx, input.UserID, input.IdempotencyKey); err != nil || existing != nil {
			return existing, err
		}
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, cartLockKey(input.CartID))
		if err != nil {
			return nil, fmt.Errorf("%w: cart is busy: %v", ErrOrderProcessing, err)
		}
		defer unlock()
	}

	now := s.clock.now()
	var order *models.Order
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, events, err = s.createOrderInTx(tx, &input, now)
		return err
	})
	if err != nil {
		// 并发的同键请求已先落库时按重放处理
		if input.IdempotencyKey != "" && !isCheckoutBusinessError(err) {
			if existing, lookupErr := s.replayOrder(ctx, input.UserID, input.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		s.metrics.ObserveCheckout(checkoutResultLabel(err))
		s.log.Warnw("order_checkout_failed", "cart_id", input.CartID, "user_id", input.UserID, "error", err)
		return nil, err
	}
	s.metrics.ObserveCheckout("ok")
	emitAudit(ctx, s.audit, s.log, events)
	s.log.Infow("order_created", "order_id", order.ID, "order_no", order.OrderNo, "total", order.TotalAmount.String(), "cart_id", input.CartID)

	result := &CheckoutResult{Order: order}
	intent, payErr := s.startPayment(ctx, order, input.Actor)
	result.Payment = intent
	result.PaymentError = payErr
	if refreshed, err := s.GetOrder(ctx, order.ID); err == nil {
		result.Order = refreshed
	}
	return result, nil
}

func (s *OrderService) replayOrder(ctx context.Context, userID uint, key string) (*CheckoutResult, error) {
	existing, err := s.orderRepo.WithTx(s.db.WithContext(ctx)).GetByIdempotencyKey(userID, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	s.metrics.ObserveCheckout("replayed")
	return &CheckoutResult{Order: existing, Replayed: true}, nil
}

func (s *OrderService) createOrderInTx(tx *gorm.DB, input *CreateOrderInput, now time.Time) (*models.Order, []AuditEvent, error) {
	cartRepo := s.cartRepo.WithTx(tx)
	cart, err := cartRepo.GetByID(input.CartID)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil || cart.Status != constants.CartStatusActive || !now.Before(cart.ExpiresAt) || cart.UserID != input.UserID {
		return nil, nil, ErrCartNotFound
	}
	if len(cart.Items) == 0 {
		return nil, nil, ErrCartEmpty
	}

	// 预占校验，过期的按配置重新预占
	var events []AuditEvent
	for i := range cart.Items {
		item := &cart.Items[i]
		live, err := s.inventory.liveReservationInTx(tx, item.ReservationID, now)
		if err != nil {
			return nil, nil, err
		}
		if live != nil && live.Quantity == item.Quantity {
			continue
		}
		if !s.opts.RereserveExpired {
			return nil, nil, &InsufficientInventoryError{
				StockItemID: item.StockItemID,
				Requested:   item.Quantity,
				Available:   s.inventory.availableInTx(tx, item.StockItemID),
			}
		}
		if live != nil {
			released, err := s.inventory.releaseInTx(tx, live.ID, now)
			if err != nil {
				return nil, nil, err
			}
			events = append(events, released...)
		}
		reservation, reserved, err := s.inventory.reserveInTx(tx, item.StockItemID, item.Quantity, cart.HolderKey(), s.inventory.ReservationTTL(), now)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, reserved...)
		item.ReservationID = reservation.ID
	}

	promoCode := cart.PromoCode
	if input.PromoCode != nil {
		promoCode = *input.PromoCode
	}
	var rule PromotionRule
	var promo *models.PromotionalCode
	if strings.TrimSpace(promoCode) != "" {
		rule, promo, err = s.promotions.resolveInTx(tx, promoCode)
		if err != nil {
			return nil, nil, err
		}
	}

	lines, resolved, err := currentPriceLines(s.vehicleRepo.WithTx(tx), s.stockRepo.WithTx(tx), cart.Items)
	if err != nil {
		return nil, nil, err
	}
	currency := cart.Currency
	if currency == "" {
		currency = s.opts.Currency
	}
	breakdown, err := s.pricing.Calculate(PricingInput{
		Lines:    lines,
		Promo:    rule,
		TaxRate:  s.opts.Tax.RateFor(input.DeliveryAddress.Region),
		Currency: currency,
		At:       now,
	})
	if err != nil {
		return nil, nil, err
	}
	if input.ExpectedTotal != nil {
		diff := breakdown.Total.Decimal.Sub(*input.ExpectedTotal).Abs()
		if diff.GreaterThan(s.opts.TotalTolerance) {
			return nil, nil, fmt.Errorf("%w: total changed from %s to %s", ErrOrderValidation, input.ExpectedTotal.StringFixed(2), breakdown.Total.String())
		}
	}

	order := &models.Order{
		OrderNo:           generateOrderNo(now),
		UserID:            input.UserID,
		CartID:            cart.ID,
		CustomerInfo:      input.CustomerInfo,
		DeliveryAddress:   input.DeliveryAddress,
		PaymentMethod:     input.PaymentMethod,
		OrderStatus:       constants.OrderStatusPending,
		PaymentStatus:     constants.PaymentStatusPending,
		FulfillmentStatus: constants.FulfillmentStatusUnfulfilled,
		Currency:          breakdown.Currency,
		Subtotal:          breakdown.Subtotal,
		DiscountAmount:    breakdown.Discount,
		TaxRate:           breakdown.TaxRate,
		TaxAmount:         breakdown.Tax,
		TotalAmount:       breakdown.Total,
		PromoCode:         breakdown.PromoCode,
		TradeIn:           input.TradeIn,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		order.IdempotencyKey = &key
	}
	models.StampCreated(&order.CreatedBy, &order.UpdatedBy, input.Actor)

	items := make([]models.OrderItem, 0, len(cart.Items))
	for i, item := range cart.Items {
		line := breakdown.Lines[i]
		items = append(items, models.OrderItem{
			VehicleID:       item.VehicleID,
			ConfigurationID: item.ConfigurationID,
			StockItemID:     item.StockItemID,
			ReservationID:   item.ReservationID,
			Title:           resolved[i].title,
			Quantity:        item.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountAmount:  line.Discount,
			TaxAmount:       line.Tax,
			TotalPrice:      line.Total,
			CreatedAt:       now,
		})
	}
	if err := s.orderRepo.WithTx(tx).Create(order, items); err != nil {
		return nil, nil, err
	}
	order.Items = items

	for _, item := range items {
		_, committed, err := s.inventory.commitInTx(tx, item.ReservationID, order.ID, now)
		if errors.Is(err, ErrReservationNotFound) {
			return nil, nil, &InsufficientInventoryError{
				StockItemID: item.StockItemID,
				Requested:   item.Quantity,
				Available:   s.inventory.availableInTx(tx, item.StockItemID),
			}
		}
		if err != nil {
			return nil, nil, err
		}
		events = append(events, committed...)
	}

	if promo != nil {
		rows, err := s.promotions.repo.WithTx(tx).IncrementUsage(promo.ID)
		if err != nil {
			return nil, nil, err
		}
		if rows == 0 {
			return nil, nil, fmt.Errorf("%w: code %s usage exhausted", ErrInvalidPromotionalCode, promo.Code)
		}
	}

	if err := cartRepo.DeleteItemsByCart(cart.ID); err != nil {
		return nil, nil, err
	}
	updates := models.AuditUpdates(input.Actor, now)
	updates["item_count"] = 0
	updates["subtotal"] = models.NewMoney(decimal.Zero)
	rows, err := cartRepo.Deactivate(cart.ID, constants.CartStatusConverted, updates)
	if err != nil {
		return nil, nil, err
	}
	if rows == 0 {
		return nil, nil, ErrCartNotFound
	}

	events = append(events, AuditEvent{
		EntityType: constants.AuditEntityOrder,
		EntityID:   orderEntityID(order.ID),
		Action:     "created",
		To:         constants.OrderStatusPending,
		Actor:      actorOrSystem(input.Actor),
		Source:     fmt.Sprintf("cart:%d", cart.ID),
		Metadata: map[string]interface{}{
			"order_no": order.OrderNo,
			"total":    order.TotalAmount.String(),
			"items":    len(items),
		},
		OccurredAt: now,
	})
	return order, events, nil
}

func isCheckoutBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientInventory, ErrCartNotFound, ErrCartEmpty, ErrOrderValidation,
		ErrInvalidPromotionalCode, ErrVehicleNotAvailable, ErrStockItemNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func checkoutResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, ErrOrderValidation), errors.Is(err, ErrInvalidPromotionalCode):
		return "invalid"
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrCartEmpty):
		return "cart"
	default:
		return "error"
	}
}

// generateOrderNo MC + 秒级时间戳 + 6 位随机数
func generateOrderNo(now time.Time) string {
	return fmt.Sprintf("MC%s%s", now.UTC().Format("20060102150405"), randNumeric(6))
}

func randNumeric(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(n.String())
	}
	return b.String()
}
