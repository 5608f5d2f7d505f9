package models

import (
	"database/sql/driver"
	"time"

	"github.com/motorcart-next/internal/constants"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerInfo 下单客户信息
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Value 实现 driver.Valuer 接口
func (c CustomerInfo) Value() (driver.Value, error) { return valueJSON(c) }

// Scan 实现 sql.Scanner 接口
func (c *CustomerInfo) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, c)
}

// DeliveryAddress 交付地址
type DeliveryAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Value 实现 driver.Valuer 接口
func (a DeliveryAddress) Value() (driver.Value, error) { return valueJSON(a) }

// Scan 实现 sql.Scanner 接口
func (a *DeliveryAddress) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, a)
}

// TradeIn 置换车辆信息（仅记录，不参与订单金额计算）
type TradeIn struct {
	VIN            string `json:"vin"`
	Make           string `json:"make"`
	Model          string `json:"model"`
	Year           int    `json:"year"`
	Mileage        int    `json:"mileage"`
	EstimatedValue Money  `json:"estimated_value"`
}

// Value 实现 driver.Valuer 接口
func (t TradeIn) Value() (driver.Value, error) { return valueJSON(t) }

// Scan 实现 sql.Scanner 接口
func (t *TradeIn) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, t)
}

// Order 订单表
type Order struct {
	ID                uint            `gorm:"primarykey" json:"id"`                                           // 主键
	OrderNo           string          `gorm:"uniqueIndex;not null" json:"order_no"`                           // 订单编号
	UserID            uint            `gorm:"index;not null" json:"user_id"`                                  // 用户ID
	DealerID          *uint           `gorm:"index" json:"dealer_id,omitempty"`                               // 经销商ID
	CartID            uint            `gorm:"index" json:"cart_id"`                                           // 来源购物车
	CustomerInfo      CustomerInfo    `gorm:"type:json" json:"customer_info"`                                 // 客户信息
	DeliveryAddress   DeliveryAddress `gorm:"type:json" json:"delivery_address"`                              // 交付地址
	PaymentMethod     string          `gorm:"type:varchar(32);not null" json:"payment_method"`               // 支付方式
	OrderStatus       string          `gorm:"type:varchar(20);index;not null" json:"order_status"`           // 订单状态
	PaymentStatus     string          `gorm:"type:varchar(20);index;not null" json:"payment_status"`         // 支付状态
	FulfillmentStatus string          `gorm:"type:varchar(20);index;not null" json:"fulfillment_status"`     // 履约状态
	Currency          string          `gorm:"type:varchar(8);not null" json:"currency"`                       // 币种
	Subtotal          Money           `gorm:"type:decimal(20,2);not null;default:0" json:"subtotal"`         // 小计
	DiscountAmount    Money           `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"`  // 优惠金额
	TaxRate           decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"tax_rate"`          // 税率
	TaxAmount         Money           `gorm:"type:decimal(20,2);not null;default:0" json:"tax_amount"`       // 税额
	TotalAmount       Money           `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`     // 应付金额
	PromoCode         string          `gorm:"type:varchar(64)" json:"promo_code,omitempty"`                  // 优惠码
	TradeIn           *TradeIn        `gorm:"type:json" json:"trade_in,omitempty"`                            // 置换信息
	IdempotencyKey    *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"`                         // 幂等键
	PaymentIntentID   string          `gorm:"type:varchar(128);index" json:"payment_intent_id,omitempty"`    // 支付意图ID
	Version           int             `gorm:"not null;default:1" json:"version"`                              // 乐观锁版本
	PaidAt            *time.Time      `json:"paid_at,omitempty"`                                              // 支付时间
	ShippedAt         *time.Time      `json:"shipped_at,omitempty"`                                           // 发运时间
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`                                         // 交付时间
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`                                         // 取消时间
	CreatedBy         string          `gorm:"type:varchar(64)" json:"created_by,omitempty"`                  // 创建人
	UpdatedBy         string          `gorm:"type:varchar(64)" json:"updated_by,omitempty"`                  // 更新人
	CreatedAt         time.Time       `gorm:"index" json:"created_at"`                                        // 创建时间
	UpdatedAt         time.Time       `json:"updated_at"`                                                     // 更新时间
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`                                                 // 软删除时间

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"` // 订单项
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// StatusOf 读取指定维度的当前状态
func (o *Order) StatusOf(dimension string) string {
	switch dimension {
	case constants.StatusDimensionOrder:
		return o.OrderStatus
	case constants.StatusDimensionPayment:
		return o.PaymentStatus
	case constants.StatusDimensionFulfillment:
		return o.FulfillmentStatus
	default:
		return ""
	}
}

// SetStatus 写入指定维度的状态
func (o *Order) SetStatus(dimension, value string) {
	switch dimension {
	case constants.StatusDimensionOrder:
		o.OrderStatus = value
	case constants.StatusDimensionPayment:
		o.PaymentStatus = value
	case constants.StatusDimensionFulfillment:
		o.FulfillmentStatus = value
	}
}

// StatusColumn 维度对应的数据库列
func StatusColumn(dimension string) string {
	switch dimension {
	case constants.StatusDimensionOrder:
		return "order_status"
	case constants.StatusDimensionPayment:
		return "payment_status"
	case constants.StatusDimensionFulfillment:
		return "fulfillment_status"
	default:
		return ""
	}
}
