package repository

import "time"

// OrderListFilter 查询订单列表的过滤条件
type OrderListFilter struct {
	Page              int
	PageSize          int
	UserID            uint
	OrderStatus       string
	PaymentStatus     string
	FulfillmentStatus string
	OrderNo           string
	CustomerEmail     string
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
}
