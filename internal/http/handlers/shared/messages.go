package shared

import "strconv"

// messages 错误键对应的提示文案
var messages = map[string]string{
	"error.bad_request":                 "invalid request",
	"error.unauthorized":                "authentication required",
	"error.forbidden":                   "permission denied",
	"error.token_invalid":               "invalid or expired token",
	"error.jwt_secret_missing":          "authentication is not configured",
	"error.auth_header_missing":         "missing bearer token",
	"error.internal":                    "internal server error",
	"error.user_id_invalid":             "invalid user id",
	"error.user_id_type_invalid":        "invalid user id type",
	"error.session_required":            "cart session or login required",
	"error.cart_not_found":              "cart not found",
	"error.cart_item_not_found":         "cart item not found",
	"error.cart_item_quantity_invalid":  "item quantity out of range",
	"error.cart_empty":                  "cart is empty",
	"error.cart_fetch_failed":           "failed to load cart",
	"error.cart_update_failed":          "failed to update cart",
	"error.cart_migrate_partial":        "some cart items could not be kept",
	"error.vehicle_not_available":       "vehicle not available",
	"error.insufficient_inventory":      "insufficient inventory",
	"error.reservation_expired":         "reservation expired, please refresh your cart",
	"error.reservation_not_found":       "reservation not found",
	"error.stock_item_not_found":        "stock item not found",
	"error.stock_total_below_held":      "total stock cannot be lower than held quantity",
	"error.inventory_fetch_failed":      "failed to load inventory",
	"error.inventory_update_failed":     "failed to update inventory",
	"error.promo_invalid":               "invalid promotional code",
	"error.order_validation":            "order validation failed",
	"error.order_not_found":             "order not found",
	"error.order_status_invalid":        "order status transition not allowed",
	"error.order_concurrent_update":     "order was modified, please reload",
	"error.order_create_failed":         "failed to create order",
	"error.order_fetch_failed":          "failed to load orders",
	"error.order_update_failed":         "failed to update order",
	"error.order_export_failed":         "failed to export orders",
	"error.payment_failed":              "payment processing failed",
	"error.payment_fraud":               "payment rejected",
	"error.payment_pending":             "order created, payment confirmation pending",
	"error.payment_retry_not_allowed":   "payment retry not allowed",
	"error.payment_signature_invalid":   "invalid payment signature",
	"error.payment_event_invalid":       "invalid payment event",
	"error.payment_webhook_unavailable": "payment webhook not configured",
	"error.rate_limited":                "too many requests, retry in %d seconds",
	"error.rate_limit_unavailable":      "rate limit unavailable",
	"error.authz_unavailable":           "authorization service unavailable",
	"error.authz_failed":                "failed to load authorization policies",
}

// Message 返回错误键对应文案，未知键原样返回
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}

func uintString(value uint) string {
	return strconv.FormatUint(uint64(value), 10)
}
