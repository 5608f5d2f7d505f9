package constants

// 订单状态常量
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// 支付状态常量
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusAuthorized = "AUTHORIZED"
	PaymentStatusCaptured   = "CAPTURED"
	PaymentStatusFailed     = "FAILED"
	PaymentStatusRefunded   = "REFUNDED"
)

// 履约状态常量
const (
	FulfillmentStatusUnfulfilled = "UNFULFILLED"
	FulfillmentStatusPreparing   = "PREPARING"
	FulfillmentStatusShipped     = "SHIPPED"
	FulfillmentStatusDelivered   = "DELIVERED"
	FulfillmentStatusReturned    = "RETURNED"
)

// 状态维度
const (
	StatusDimensionOrder       = "order"
	StatusDimensionPayment     = "payment"
	StatusDimensionFulfillment = "fulfillment"
)

// 库存预占状态
const (
	ReservationStatusActive    = "active"
	ReservationStatusReleased  = "released"
	ReservationStatusExpired   = "expired"
	ReservationStatusCommitted = "committed"
	ReservationStatusRestocked = "restocked"
)

// 购物车状态
const (
	CartStatusActive    = "active"
	CartStatusConverted = "converted"
	CartStatusMerged    = "merged"
	CartStatusExpired   = "expired"
)

// 优惠码规则类型
const (
	PromoRulePercentage = "percentage"
	PromoRuleFlat       = "flat"
)

// 支付方式
const (
	PaymentMethodCard   = "card"
	PaymentMethodManual = "manual"
)

// 支付事件类型
const (
	PaymentEventAuthorized = "payment.authorized"
	PaymentEventSucceeded  = "payment.succeeded"
	PaymentEventFailed     = "payment.failed"
	PaymentEventRefunded   = "payment.refunded"
)

// 支付事件处理结果
const (
	PaymentEventResultApplied  = "applied"
	PaymentEventResultIgnored  = "ignored"
	PaymentEventResultRejected = "rejected"
)

// 审计实体类型
const (
	AuditEntityOrder       = "order"
	AuditEntityReservation = "reservation"
)

// 操作人
const (
	ActorSystem  = "system"
	ActorWebhook = "webhook"
	ActorWorker  = "worker"
)

// 队列相关常量
const (
	QueueDefault  = "default"
	QueueCritical = "critical"

	TaskOrderStatusNotify     = "order:status_notify"
	TaskOrderPaymentReconcile = "order:payment_reconcile"
	TaskInventorySweep        = "inventory:sweep"
	TaskCartPurge             = "cart:purge"
)

// 购物车单项数量上限
const (
	CartItemMinQuantity = 1
	CartItemMaxQuantity = 10
)
