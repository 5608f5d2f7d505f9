package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/motorcart-next/internal/cache"
	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CartLocker 单购物车互斥
type CartLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// CartOptions 购物车参数
type CartOptions struct {
	TTL             time.Duration
	MaxItemQuantity int
	Currency        string
	PurgeBatchSize  int
	Tax             TaxPolicy
}

// CartOwner 购物车归属，会话与用户二选一
type CartOwner struct {
	SessionID string
	UserID    uint
}

// AddCartItemInput 加购输入
type AddCartItemInput struct {
	VehicleID       uint `json:"vehicle_id"`
	ConfigurationID uint `json:"configuration_id"`
	Quantity        int  `json:"quantity"`
}

// DroppedItem 合并或刷新时无法保留的购物车项
type DroppedItem struct {
	VehicleID       uint   `json:"vehicle_id"`
	ConfigurationID uint   `json:"configuration_id"`
	Quantity        int    `json:"quantity"`
	Reason          string `json:"reason"`
}

// MigrationResult 登录后购物车迁移结果
type MigrationResult struct {
	Cart    *models.Cart  `json:"cart"`
	Merged  bool          `json:"merged"`
	Dropped []DroppedItem `json:"dropped,omitempty"`
}

// RefreshResult 预占刷新结果
type RefreshResult struct {
	Cart    *models.Cart  `json:"cart"`
	Dropped []DroppedItem `json:"dropped,omitempty"`
}

// CartQuote 购物车价格预览
type CartQuote struct {
	CartID     uint           `json:"cart_id"`
	Breakdown  PriceBreakdown `json:"breakdown"`
	PromoError string         `json:"promo_error,omitempty"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// vehicleLine 车型+配置的当前售价与库存单元
type vehicleLine struct {
	vehicle       *models.Vehicle
	configuration *models.VehicleConfiguration
	stock         *models.StockItem
	unitPrice     decimal.Decimal
	title         string
}

// CartService 购物车服务
type CartService struct {
	db          *gorm.DB
	cartRepo    repository.CartRepository
	vehicleRepo repository.VehicleRepository
	stockRepo   repository.StockItemRepository
	inventory   *InventoryService
	pricing     *PricingCalculator
	promotions  *PromotionRegistry
	locker      CartLocker
	audit       AuditSink
	log         *zap.SugaredLogger
	clock       Clock
	opts        CartOptions
}

// NewCartService 创建购物车服务
func NewCartService(db *gorm.DB, cartRepo repository.CartRepository, vehicleRepo repository.VehicleRepository, stockRepo repository.StockItemRepository, inventory *InventoryService, pricing *PricingCalculator, promotions *PromotionRegistry, locker CartLocker, audit AuditSink, log *zap.SugaredLogger, clock Clock, opts CartOptions) *CartService {
	if opts.TTL <= 0 {
		opts.TTL = 72 * time.Hour
	}
	if opts.MaxItemQuantity <= 0 {
		opts.MaxItemQuantity = constants.CartItemMaxQuantity
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "USD"
	}
	if opts.PurgeBatchSize <= 0 {
		opts.PurgeBatchSize = 100
	}
	if locker == nil {
		locker = cache.NewKeyedMutex()
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CartService{
		db:          db,
		cartRepo:    cartRepo,
		vehicleRepo: vehicleRepo,
		stockRepo:   stockRepo,
		inventory:   inventory,
		pricing:     pricing,
		promotions:  promotions,
		locker:      locker,
		audit:       audit,
		log:         log,
		clock:       clock,
		opts:        opts,
	}
}

func cartLockKey(cartID uint) string {
	return "cart:" + strconv.FormatUint(uint64(cartID), 10)
}

func ownerLockKey(ownerKey string) string {
	return "cart-owner:" + ownerKey
}

// GetOrCreateCart 获取归属方的活跃购物车，不存在或已过期时新建
func (s *CartService) GetOrCreateCart(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	ownerKey, err := models.CartOwnerKey(owner.SessionID, owner.UserID)
	if err != nil {
		return nil, ErrCartOwnerInvalid
	}
	unlock, err := s.locker.Lock(ctx, ownerLockKey(ownerKey))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	var cartID uint
	var events []AuditEvent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, expiredEvents, err := s.activeCartByOwnerInTx(tx, ownerKey, now)
		if err != nil {
			return err
		}
		events = expiredEvents
		if cart != nil {
			cartID = cart.ID
			return nil
		}
		cart = &models.Cart{
			SessionID:   strings.TrimSpace(owner.SessionID),
			UserID:      owner.UserID,
			ActiveOwner: &ownerKey,
			Status:      constants.CartStatusActive,
			Currency:    s.opts.Currency,
			Subtotal:    models.NewMoney(decimal.Zero),
			ExpiresAt:   now.Add(s.opts.TTL),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		models.StampCreated(&cart.CreatedBy, &cart.UpdatedBy, ownerKey)
		if err := s.cartRepo.WithTx(tx).Create(cart); err != nil {
			return err
		}
		cartID = cart.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	emitAudit(ctx, s.audit, s.log, events)
	return s.GetCart(ctx, cartID)
}

// activeCartByOwnerInTx 读取活跃购物车，已过期的就地失效
func (s *CartService) activeCartByOwnerInTx(tx *gorm.DB, ownerKey string, now time.Time) (*models.Cart, []AuditEvent, error) {
	cart, err := s.cartRepo.WithTx(tx).GetActiveByOwner(ownerKey)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil {
		return nil, nil, nil
	}
	if now.Before(cart.ExpiresAt) {
		return cart, nil, nil
	}
	events, err := s.expireCartInTx(tx, cart, now)
	if err != nil {
		return nil, nil, err
	}
	return nil, events, nil
}

// GetCart 查询购物车
func (s *CartService) GetCart(ctx context.Context, cartID uint) (*models.Cart, error) {
	cart, err := s.cartRepo.WithTx(s.db.WithContext(ctx)).GetByID(cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

// withCart 在单购物车锁与事务内执行修改，并刷新购物车与预占有效期
func (s *CartService) withCart(ctx context.Context, cartID uint, mutate func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error)) (*models.Cart, error) {
	unlock, err := s.locker.Lock(ctx, cartLockKey(cartID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	var events []AuditEvent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.loadActiveCartInTx(tx, cartID, now)
		if err != nil {
			return err
		}
		mutated, err := mutate(tx, cart, now)
		if err != nil {
			return err
		}
		events = mutated
		return s.touchCartInTx(tx, cart, now)
	})
	if err != nil {
		return nil, err
	}
	emitAudit(ctx, s.audit, s.log, events)
	return s.GetCart(ctx, cartID)
}

func (s *CartService) loadActiveCartInTx(tx *gorm.DB, cartID uint, now time.Time) (*models.Cart, error) {
	cart, err := s.cartRepo.WithTx(tx).GetByID(cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil || cart.Status != constants.CartStatusActive || !now.Before(cart.ExpiresAt) {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

// touchCartInTx 重算件数与小计，刷新购物车 TTL 并顺延有效预占
func (s *CartService) touchCartInTx(tx *gorm.DB, cart *models.Cart, now time.Time) error {
	reservationExpiry := now.Add(s.inventory.ReservationTTL())
	for i := range cart.Items {
		item := &cart.Items[i]
		if item.ReservationID == "" {
			continue
		}
		if _, err := s.inventory.refreshInTx(tx, item.ReservationID, reservationExpiry, now); err != nil {
			return err
		}
	}
	cart.Recalculate()
	cart.ExpiresAt = now.Add(s.opts.TTL)
	updates := models.AuditUpdates(cart.UpdatedBy, now)
	updates["item_count"] = cart.ItemCount
	updates["subtotal"] = cart.Subtotal
	updates["promo_code"] = cart.PromoCode
	updates["expires_at"] = cart.ExpiresAt
	return s.cartRepo.WithTx(tx).Update(cart.ID, updates)
}

// resolveVehicleLine 解析车型+配置的当前售价与库存单元
func resolveVehicleLine(vehicleRepo repository.VehicleRepository, stockRepo repository.StockItemRepository, vehicleID, configurationID uint) (*vehicleLine, error) {
	if vehicleID == 0 {
		return nil, ErrVehicleNotAvailable
	}
	vehicle, err := vehicleRepo.GetByID(vehicleID)
	if err != nil {
		return nil, err
	}
	if vehicle == nil || !vehicle.IsActive {
		return nil, ErrVehicleNotAvailable
	}
	line := &vehicleLine{
		vehicle:   vehicle,
		unitPrice: vehicle.BasePrice.Decimal,
		title:     vehicle.Title(),
	}
	if configurationID != 0 {
		configuration, err := vehicleRepo.GetConfiguration(vehicleID, configurationID)
		if err != nil {
			return nil, err
		}
		if configuration == nil || !configuration.IsActive {
			return nil, ErrVehicleNotAvailable
		}
		line.configuration = configuration
		line.unitPrice = line.unitPrice.Add(configuration.PriceDelta.Decimal)
		if name := strings.TrimSpace(configuration.Name); name != "" {
			line.title = line.title + " / " + name
		}
	}
	stock, err := stockRepo.GetByVehicle(vehicleID, configurationID)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, ErrStockItemNotFound
	}
	line.stock = stock
	line.unitPrice = models.RoundMoney(line.unitPrice)
	return line, nil
}

func (s *CartService) validateQuantity(quantity int) error {
	if quantity < constants.CartItemMinQuantity || quantity > s.opts.MaxItemQuantity {
		return fmt.Errorf("%w: quantity must be between %d and %d", ErrCartItemQuantityInvalid, constants.CartItemMinQuantity, s.opts.MaxItemQuantity)
	}
	return nil
}

// AddItem 加购，同车型同配置合并数量
func (s *CartService) AddItem(ctx context.Context, cartID uint, input AddCartItemInput) (*models.Cart, error) {
	if err := s.validateQuantity(input.Quantity); err != nil {
		return nil, err
	}
	return s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		line, err := resolveVehicleLine(s.vehicleRepo.WithTx(tx), s.stockRepo.WithTx(tx), input.VehicleID, input.ConfigurationID)
		if err != nil {
			return nil, err
		}
		if existing := cart.FindItemByVehicle(input.VehicleID, input.ConfigurationID); existing != nil {
			quantity := existing.Quantity + input.Quantity
			if err := s.validateQuantity(quantity); err != nil {
				return nil, err
			}
			return s.setItemQuantityInTx(tx, cart, existing, quantity, line.unitPrice, now)
		}

		reservation, events, err := s.inventory.reserveInTx(tx, line.stock.ID, input.Quantity, cart.HolderKey(), s.inventory.ReservationTTL(), now)
		if err != nil {
			return nil, err
		}
		item := models.CartItem{
			CartID:          cart.ID,
			VehicleID:       input.VehicleID,
			ConfigurationID: input.ConfigurationID,
			StockItemID:     line.stock.ID,
			Quantity:        input.Quantity,
			UnitPrice:       models.NewMoney(line.unitPrice),
			ReservationID:   reservation.ID,
			Title:           line.title,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		item.RecalculateTotal()
		if err := s.cartRepo.WithTx(tx).CreateItem(&item); err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
		return events, nil
	})
}

// setItemQuantityInTx 调整行数量；预占仍有效时按差额调整，已失效时重新预占
func (s *CartService) setItemQuantityInTx(tx *gorm.DB, cart *models.Cart, item *models.CartItem, quantity int, unitPrice decimal.Decimal, now time.Time) ([]AuditEvent, error) {
	var events []AuditEvent
	reservationID := item.ReservationID
	expiresAt := now.Add(s.inventory.ReservationTTL())

	resized, resizeEvents, err := s.inventory.resizeInTx(tx, item.ReservationID, quantity, expiresAt, now)
	switch {
	case err == nil:
		events = append(events, resizeEvents...)
		reservationID = resized.ID
	case errors.Is(err, ErrReservationNotFound):
		released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
		if err != nil {
			return nil, err
		}
		events = append(events, released...)
		reservation, reserveEvents, err := s.inventory.reserveInTx(tx, item.StockItemID, quantity, cart.HolderKey(), s.inventory.ReservationTTL(), now)
		if err != nil {
			return nil, err
		}
		events = append(events, reserveEvents...)
		reservationID = reservation.ID
	default:
		return nil, err
	}

	item.Quantity = quantity
	item.UnitPrice = models.NewMoney(unitPrice)
	item.ReservationID = reservationID
	item.UpdatedAt = now
	item.RecalculateTotal()
	if err := s.cartRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
		"quantity":       item.Quantity,
		"unit_price":     item.UnitPrice,
		"total_price":    item.TotalPrice,
		"reservation_id": item.ReservationID,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}
	return events, nil
}

// UpdateItem 修改数量，0 表示移除；预占失败时保持原数量
func (s *CartService) UpdateItem(ctx context.Context, cartID, itemID uint, quantity int) (*models.Cart, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, cartID, itemID)
	}
	if err := s.validateQuantity(quantity); err != nil {
		return nil, err
	}
	return s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		item := cart.FindItem(itemID)
		if item == nil {
			return nil, ErrCartItemNotFound
		}
		if item.Quantity == quantity {
			return nil, nil
		}
		return s.setItemQuantityInTx(tx, cart, item, quantity, item.UnitPrice.Decimal, now)
	})
}

// RemoveItem 释放预占并移除购物车项
func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID uint) (*models.Cart, error) {
	return s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		item := cart.FindItem(itemID)
		if item == nil {
			return nil, ErrCartItemNotFound
		}
		events, err := s.removeItemInTx(tx, cart, item, now)
		if err != nil {
			return nil, err
		}
		return events, nil
	})
}

func (s *CartService) removeItemInTx(tx *gorm.DB, cart *models.Cart, item *models.CartItem, now time.Time) ([]AuditEvent, error) {
	events, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
	if err != nil {
		return nil, err
	}
	if err := s.cartRepo.WithTx(tx).DeleteItem(item.ID); err != nil {
		return nil, err
	}
	removedID := item.ID
	kept := make([]models.CartItem, 0, len(cart.Items))
	for _, existing := range cart.Items {
		if existing.ID != removedID {
			kept = append(kept, existing)
		}
	}
	cart.Items = kept
	return events, nil
}

// ApplyPromo 校验并应用优惠码
func (s *CartService) ApplyPromo(ctx context.Context, cartID uint, code string) (*models.Cart, error) {
	return s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		if len(cart.Items) == 0 {
			return nil, fmt.Errorf("%w: cart is empty", ErrInvalidPromotionalCode)
		}
		rule, promo, err := s.promotions.resolveInTx(tx, code)
		if err != nil {
			return nil, err
		}
		if _, err := s.pricing.Calculate(PricingInput{
			Lines:    cartPriceLines(cart.Items),
			Promo:    rule,
			TaxRate:  s.opts.Tax.Default,
			Currency: cart.Currency,
			At:       now,
		}); err != nil {
			return nil, err
		}
		cart.PromoCode = promo.Code
		return nil, nil
	})
}

// RemovePromo 移除已应用的优惠码
func (s *CartService) RemovePromo(ctx context.Context, cartID uint) (*models.Cart, error) {
	return s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		cart.PromoCode = ""
		return nil, nil
	})
}

func cartPriceLines(items []models.CartItem) []PriceLine {
	lines := make([]PriceLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, PriceLine{
			Key:       strconv.FormatUint(uint64(item.ID), 10),
			VehicleID: item.VehicleID,
			UnitPrice: item.UnitPrice.Decimal,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

// currentPriceLines 按当前售价生成定价行
func currentPriceLines(vehicleRepo repository.VehicleRepository, stockRepo repository.StockItemRepository, items []models.CartItem) ([]PriceLine, []*vehicleLine, error) {
	lines := make([]PriceLine, 0, len(items))
	resolved := make([]*vehicleLine, 0, len(items))
	for _, item := range items {
		line, err := resolveVehicleLine(vehicleRepo, stockRepo, item.VehicleID, item.ConfigurationID)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, PriceLine{
			Key:       strconv.FormatUint(uint64(item.ID), 10),
			VehicleID: item.VehicleID,
			UnitPrice: line.unitPrice,
			Quantity:  item.Quantity,
		})
		resolved = append(resolved, line)
	}
	return lines, resolved, nil
}

// Quote 按当前售价预览价格，与下单使用同一定价器
func (s *CartService) Quote(ctx context.Context, cartID uint, region string) (*CartQuote, error) {
	now := s.clock.now()
	db := s.db.WithContext(ctx)
	cart, err := s.loadActiveCartInTx(db, cartID, now)
	if err != nil {
		return nil, err
	}
	lines, _, err := currentPriceLines(s.vehicleRepo.WithTx(db), s.stockRepo.WithTx(db), cart.Items)
	if err != nil {
		return nil, err
	}
	quote := &CartQuote{CartID: cart.ID, ExpiresAt: cart.ExpiresAt}
	input := PricingInput{
		Lines:    lines,
		TaxRate:  s.opts.Tax.RateFor(region),
		Currency: cart.Currency,
		At:       now,
	}
	if cart.PromoCode != "" {
		rule, _, err := s.promotions.resolveInTx(db, cart.PromoCode)
		if err != nil {
			quote.PromoError = err.Error()
		} else {
			input.Promo = rule
		}
	}
	breakdown, err := s.pricing.Calculate(input)
	if err != nil && input.Promo != nil && errors.Is(err, ErrInvalidPromotionalCode) {
		quote.PromoError = err.Error()
		input.Promo = nil
		breakdown, err = s.pricing.Calculate(input)
	}
	if err != nil {
		return nil, err
	}
	quote.Breakdown = breakdown
	return quote, nil
}

// RefreshReservations 顺延有效预占，已失效的尝试重新预占，库存不足的移除并返回
func (s *CartService) RefreshReservations(ctx context.Context, cartID uint) (*RefreshResult, error) {
	var dropped []DroppedItem
	cart, err := s.withCart(ctx, cartID, func(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
		var events []AuditEvent
		items := append([]models.CartItem(nil), cart.Items...)
		for i := range items {
			item := cart.FindItem(items[i].ID)
			live, err := s.inventory.refreshInTx(tx, item.ReservationID, now.Add(s.inventory.ReservationTTL()), now)
			if err != nil {
				return nil, err
			}
			if live {
				continue
			}
			released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
			if err != nil {
				return nil, err
			}
			events = append(events, released...)
			reservation, reserveEvents, err := s.inventory.reserveInTx(tx, item.StockItemID, item.Quantity, cart.HolderKey(), s.inventory.ReservationTTL(), now)
			if errors.Is(err, ErrInsufficientInventory) {
				dropped = append(dropped, DroppedItem{
					VehicleID:       item.VehicleID,
					ConfigurationID: item.ConfigurationID,
					Quantity:        item.Quantity,
					Reason:          "insufficient_inventory",
				})
				removed, err := s.removeItemInTx(tx, cart, item, now)
				if err != nil {
					return nil, err
				}
				events = append(events, removed...)
				continue
			}
			if err != nil {
				return nil, err
			}
			events = append(events, reserveEvents...)
			item.ReservationID = reservation.ID
			if err := s.cartRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
				"reservation_id": reservation.ID,
				"updated_at":     now,
			}); err != nil {
				return nil, err
			}
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		s.log.Warnw("cart_refresh_dropped_items", "cart_id", cartID, "dropped", len(dropped))
	}
	return &RefreshResult{Cart: cart, Dropped: dropped}, nil
}

// MigrateSessionToUser 登录后迁移匿名购物车：用户无购物车时直接转移，否则合并
// 合并时无法重新预占的项会被移除并在结果中返回，同时返回 ErrCartService
func (s *CartService) MigrateSessionToUser(ctx context.Context, sessionID string, userID uint) (*MigrationResult, error) {
	sessionKey, err := models.CartOwnerKey(sessionID, 0)
	if err != nil {
		return nil, ErrCartOwnerInvalid
	}
	userKey, err := models.CartOwnerKey("", userID)
	if err != nil {
		return nil, ErrCartOwnerInvalid
	}
	result := &MigrationResult{}
	if err := s.migrateLocked(ctx, sessionKey, userKey, userID, result); err != nil {
		return nil, err
	}

	cart, err := s.GetOrCreateCart(ctx, CartOwner{UserID: userID})
	if err != nil {
		return nil, err
	}
	result.Cart = cart
	if len(result.Dropped) > 0 {
		s.log.Warnw("cart_merge_dropped_items", "user_id", userID, "cart_id", cart.ID, "dropped", len(result.Dropped))
		return result, fmt.Errorf("%w: %d item(s) could not be merged", ErrCartService, len(result.Dropped))
	}
	return result, nil
}

func (s *CartService) migrateLocked(ctx context.Context, sessionKey, userKey string, userID uint, result *MigrationResult) error {
	// 固定加锁顺序：会话在前，用户在后
	for _, key := range []string{sessionKey, userKey} {
		unlock, err := s.locker.Lock(ctx, ownerLockKey(key))
		if err != nil {
			return err
		}
		defer unlock()
	}

	now := s.clock.now()
	var events []AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessionCart, expired, err := s.activeCartByOwnerInTx(tx, sessionKey, now)
		if err != nil {
			return err
		}
		events = append(events, expired...)
		userCart, expired, err := s.activeCartByOwnerInTx(tx, userKey, now)
		if err != nil {
			return err
		}
		events = append(events, expired...)

		switch {
		case sessionCart == nil:
			return nil
		case userCart == nil:
			// 直接转移归属，预占持有方按购物车 ID 标识无需变更
			if err := s.cartRepo.WithTx(tx).Update(sessionCart.ID, map[string]interface{}{
				"session_id":   "",
				"user_id":      userID,
				"active_owner": userKey,
				"updated_by":   userKey,
				"updated_at":   now,
			}); err != nil {
				return err
			}
			sessionCart.SessionID = ""
			sessionCart.UserID = userID
			sessionCart.UpdatedBy = userKey
			return s.touchCartInTx(tx, sessionCart, now)
		default:
			result.Merged = true
			merged, err := s.mergeCartsInTx(tx, sessionCart, userCart, now, result)
			if err != nil {
				return err
			}
			events = append(events, merged...)
			return nil
		}
	})
	if err != nil {
		return err
	}
	emitAudit(ctx, s.audit, s.log, events)
	return nil
}

// mergeCartsInTx 将会话购物车合并到用户购物车，会话购物车标记为 merged
func (s *CartService) mergeCartsInTx(tx *gorm.DB, sessionCart, userCart *models.Cart, now time.Time, result *MigrationResult) ([]AuditEvent, error) {
	var events []AuditEvent
	cartRepo := s.cartRepo.WithTx(tx)
	reservationTTL := s.inventory.ReservationTTL()

	sessionItems := append([]models.CartItem(nil), sessionCart.Items...)
	sort.SliceStable(sessionItems, func(i, j int) bool { return sessionItems[i].ID < sessionItems[j].ID })

	for i := range sessionItems {
		item := &sessionItems[i]
		drop := func(reason string) {
			result.Dropped = append(result.Dropped, DroppedItem{
				VehicleID:       item.VehicleID,
				ConfigurationID: item.ConfigurationID,
				Quantity:        item.Quantity,
				Reason:          reason,
			})
		}

		target := userCart.FindItemByVehicle(item.VehicleID, item.ConfigurationID)
		if target == nil {
			moved, err := s.inventory.transferHolderInTx(tx, item.ReservationID, sessionCart.HolderKey(), userCart.HolderKey(), now)
			if err != nil {
				return nil, err
			}
			if !moved {
				released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
				if err != nil {
					return nil, err
				}
				events = append(events, released...)
				reservation, reserveEvents, err := s.inventory.reserveInTx(tx, item.StockItemID, item.Quantity, userCart.HolderKey(), reservationTTL, now)
				if errors.Is(err, ErrInsufficientInventory) {
					drop("insufficient_inventory")
					continue
				}
				if err != nil {
					return nil, err
				}
				events = append(events, reserveEvents...)
				item.ReservationID = reservation.ID
			}
			if err := cartRepo.UpdateItem(item.ID, map[string]interface{}{
				"cart_id":        userCart.ID,
				"reservation_id": item.ReservationID,
				"updated_at":     now,
			}); err != nil {
				return nil, err
			}
			item.CartID = userCart.ID
			userCart.Items = append(userCart.Items, *item)
			continue
		}

		quantity := target.Quantity + item.Quantity
		if quantity > s.opts.MaxItemQuantity {
			released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
			if err != nil {
				return nil, err
			}
			events = append(events, released...)
			drop("quantity_limit")
			continue
		}
		targetLive, err := s.inventory.liveReservationInTx(tx, target.ReservationID, now)
		if err != nil {
			return nil, err
		}
		// 先归还会话侧预占，再在用户侧按合并数量预占
		released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
		if err != nil {
			return nil, err
		}
		events = append(events, released...)
		adjusted, err := s.setItemQuantityInTx(tx, userCart, target, quantity, target.UnitPrice.Decimal, now)
		if errors.Is(err, ErrInsufficientInventory) {
			drop("insufficient_inventory")
			if targetLive == nil {
				// 用户侧原预占已失效，按原数量补占，补不上则一并移除
				restored, err := s.restoreLapsedItemInTx(tx, userCart, target, now, result)
				if err != nil {
					return nil, err
				}
				events = append(events, restored...)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, adjusted...)
	}

	if userCart.PromoCode == "" && sessionCart.PromoCode != "" {
		userCart.PromoCode = sessionCart.PromoCode
	}
	if err := cartRepo.DeleteItemsByCart(sessionCart.ID); err != nil {
		return nil, err
	}
	if _, err := cartRepo.Deactivate(sessionCart.ID, constants.CartStatusMerged, map[string]interface{}{
		"item_count": 0,
		"subtotal":   models.NewMoney(decimal.Zero),
		"updated_at": now,
	}); err != nil {
		return nil, err
	}
	if err := s.touchCartInTx(tx, userCart, now); err != nil {
		return nil, err
	}
	return events, nil
}

// restoreLapsedItemInTx 重新预占失效的用户行；库存不足时移除该行并记入 Dropped
func (s *CartService) restoreLapsedItemInTx(tx *gorm.DB, cart *models.Cart, item *models.CartItem, now time.Time, result *MigrationResult) ([]AuditEvent, error) {
	restored, err := s.setItemQuantityInTx(tx, cart, item, item.Quantity, item.UnitPrice.Decimal, now)
	if err == nil {
		return restored, nil
	}
	if !errors.Is(err, ErrInsufficientInventory) {
		return nil, err
	}
	result.Dropped = append(result.Dropped, DroppedItem{
		VehicleID:       item.VehicleID,
		ConfigurationID: item.ConfigurationID,
		Quantity:        item.Quantity,
		Reason:          "insufficient_inventory",
	})
	return s.removeItemInTx(tx, cart, item, now)
}

// expireCartInTx 失效购物车并释放其全部预占
func (s *CartService) expireCartInTx(tx *gorm.DB, cart *models.Cart, now time.Time) ([]AuditEvent, error) {
	var events []AuditEvent
	for _, item := range cart.Items {
		released, err := s.inventory.releaseInTx(tx, item.ReservationID, now)
		if err != nil {
			return nil, err
		}
		events = append(events, released...)
	}
	orphans, err := s.inventory.releaseHolderInTx(tx, cart.HolderKey(), now)
	if err != nil {
		return nil, err
	}
	events = append(events, orphans...)
	if _, err := s.cartRepo.WithTx(tx).Deactivate(cart.ID, constants.CartStatusExpired, map[string]interface{}{
		"updated_at": now,
	}); err != nil {
		return nil, err
	}
	return events, nil
}

// PurgeExpired 批量失效过期购物车，返回处理数量
func (s *CartService) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.opts.PurgeBatchSize
	}
	now := s.clock.now()
	carts, err := s.cartRepo.WithTx(s.db.WithContext(ctx)).ListExpiredActive(now, limit)
	if err != nil {
		return 0, err
	}
	purged := 0
	for i := range carts {
		cart := &carts[i]
		unlock, err := s.locker.Lock(ctx, cartLockKey(cart.ID))
		if err != nil {
			return purged, err
		}
		var events []AuditEvent
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.cartRepo.WithTx(tx).GetByID(cart.ID)
			if err != nil {
				return err
			}
			if current == nil || current.Status != constants.CartStatusActive || now.Before(current.ExpiresAt) {
				return nil
			}
			events, err = s.expireCartInTx(tx, current, now)
			return err
		})
		unlock()
		if err != nil {
			s.log.Warnw("cart_purge_failed", "cart_id", cart.ID, "error", err)
			continue
		}
		emitAudit(ctx, s.audit, s.log, events)
		purged++
	}
	return purged, nil
}
