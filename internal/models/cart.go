package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrCartOwnerInvalid 购物车归属必须且只能是会话或用户之一
var ErrCartOwnerInvalid = errors.New("cart owner must be exactly one of session or user")

// Cart 购物车
type Cart struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                        // 主键
	SessionID   string         `gorm:"type:varchar(64);index" json:"session_id,omitempty"`         // 匿名会话ID
	UserID      uint           `gorm:"index" json:"user_id,omitempty"`                              // 用户ID
	ActiveOwner *string        `gorm:"type:varchar(80);uniqueIndex" json:"-"`                       // 活跃归属键（非活跃时为空）
	Status      string         `gorm:"type:varchar(20);not null;index" json:"status"`              // 状态
	PromoCode   string         `gorm:"type:varchar(64)" json:"promo_code"`                         // 已应用优惠码
	ItemCount   int            `gorm:"not null;default:0" json:"item_count"`                       // 商品件数
	Subtotal    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"subtotal"`      // 小计
	Currency    string         `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`     // 币种
	ExpiresAt   time.Time      `gorm:"not null;index" json:"expires_at"`                           // 过期时间
	CreatedBy   string         `gorm:"type:varchar(64)" json:"created_by,omitempty"`               // 创建人
	UpdatedBy   string         `gorm:"type:varchar(64)" json:"updated_by,omitempty"`               // 更新人
	CreatedAt   time.Time      `json:"created_at"`                                                  // 创建时间
	UpdatedAt   time.Time      `json:"updated_at"`                                                  // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                              // 软删除时间

	Items []CartItem `gorm:"foreignKey:CartID" json:"items"` // 购物车项
}

// TableName 指定表名
func (Cart) TableName() string {
	return "carts"
}

// CartOwnerKey 生成归属键
func CartOwnerKey(sessionID string, userID uint) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	switch {
	case sessionID != "" && userID != 0, sessionID == "" && userID == 0:
		return "", ErrCartOwnerInvalid
	case userID != 0:
		return fmt.Sprintf("user:%d", userID), nil
	default:
		return "session:" + sessionID, nil
	}
}

// ValidateOwner 校验归属
func (c *Cart) ValidateOwner() error {
	_, err := CartOwnerKey(c.SessionID, c.UserID)
	return err
}

// HolderKey 库存预占持有方标识
func (c *Cart) HolderKey() string {
	return fmt.Sprintf("cart:%d", c.ID)
}

// Recalculate 根据购物车项重算件数与小计
func (c *Cart) Recalculate() {
	count := 0
	subtotal := decimal.Zero
	for i := range c.Items {
		c.Items[i].RecalculateTotal()
		count += c.Items[i].Quantity
		subtotal = subtotal.Add(c.Items[i].TotalPrice.Decimal)
	}
	c.ItemCount = count
	c.Subtotal = NewMoney(subtotal)
}

// FindItem 查找购物车项
func (c *Cart) FindItem(itemID uint) *CartItem {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}

// FindItemByVehicle 按车型+配置查找购物车项
func (c *Cart) FindItemByVehicle(vehicleID, configurationID uint) *CartItem {
	for i := range c.Items {
		if c.Items[i].VehicleID == vehicleID && c.Items[i].ConfigurationID == configurationID {
			return &c.Items[i]
		}
	}
	return nil
}
