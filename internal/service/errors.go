package service

import (
	"errors"
	"fmt"
)

// 库存
var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrReservationNotFound   = errors.New("reservation not found or no longer active")
	ErrStockItemNotFound     = errors.New("stock item not found")
	ErrStockTotalBelowHeld   = errors.New("total stock cannot be lower than reserved and committed quantity")
	ErrInventoryInputInvalid = errors.New("invalid inventory request")
)

// 购物车
var (
	ErrCartService             = errors.New("cart service error")
	ErrCartNotFound            = errors.New("cart not found")
	ErrCartItemNotFound        = errors.New("cart item not found")
	ErrCartItemQuantityInvalid = errors.New("cart item quantity out of range")
	ErrCartEmpty               = errors.New("cart is empty")
	ErrCartOwnerInvalid        = errors.New("cart owner must be a session or a user")
	ErrVehicleNotAvailable     = errors.New("vehicle not available")
)

// 定价
var (
	ErrInvalidPromotionalCode = errors.New("invalid promotional code")
	ErrPromotionRuleUnknown   = errors.New("unknown promotion rule type")
)

// 订单
var (
	ErrOrderValidation       = errors.New("order validation failed")
	ErrOrderProcessing       = errors.New("order processing failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrStateTransition       = errors.New("invalid state transition")
	ErrOrderConcurrentUpdate = errors.New("order was modified concurrently")
)

// 支付
var (
	ErrPaymentProcessing      = errors.New("payment processing failed")
	ErrFraudDetected          = errors.New("payment flagged as fraudulent")
	ErrPaymentGatewayTimeout  = errors.New("payment gateway timeout")
	ErrPaymentEventInvalid    = errors.New("invalid payment event")
	ErrPaymentRetryNotAllowed = errors.New("payment retry not allowed")
)

// InsufficientInventoryError 库存不足明细
type InsufficientInventoryError struct {
	StockItemID uint
	Requested   int
	Available   int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for stock item %d: requested %d, available %d", e.StockItemID, e.Requested, e.Available)
}

// Is 支持 errors.Is(err, ErrInsufficientInventory)
func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// StateTransitionError 非法状态流转明细
type StateTransitionError struct {
	Dimension string
	From      string
	To        string
	Reason    string
}

func (e *StateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s transition %s -> %s: %s", e.Dimension, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Dimension, e.From, e.To)
}

// Is 支持 errors.Is(err, ErrStateTransition)
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}
