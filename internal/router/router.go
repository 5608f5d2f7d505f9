package router

import (
	"strings"

	"github.com/motorcart-next/internal/config"
	adminhandlers "github.com/motorcart-next/internal/http/handlers/admin"
	publichandlers "github.com/motorcart-next/internal/http/handlers/public"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisClient := c.Store.Client()
	checkoutRule := NewRateLimitRule(cfg.Redis.Prefix, "checkout", cfg.RateLimit.Checkout)
	promoRule := NewRateLimitRule(cfg.Redis.Prefix, "promo", cfg.RateLimit.Promo)
	webhookRule := NewRateLimitRule(cfg.Redis.Prefix, "webhook", cfg.RateLimit.Webhook)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(c.Logger))
	r.Use(MetricsMiddleware(c.Metrics))
	r.Use(CORSMiddleware(cfg.CORS))

	if c.Metrics != nil {
		path := strings.TrimSpace(cfg.Metrics.Path)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(c.Metrics.Handler()))
	}
	r.GET("/health", func(ctx *gin.Context) {
		status := gin.H{"status": "ok", "database": "ok", "redis": "disabled"}
		if sqlDB, err := c.DB.DB(); err != nil || sqlDB.PingContext(ctx.Request.Context()) != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
		}
		if c.Store.Enabled() {
			status["redis"] = "ok"
			if err := c.Store.Ping(ctx.Request.Context()); err != nil {
				status["status"] = "degraded"
				status["redis"] = "unreachable"
			}
		}
		response.Success(ctx, status)
	})

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 购物车：匿名会话或登录用户
		cart := apiV1.Group("/cart", OptionalUserAuth(cfg.JWT))
		{
			cart.GET("", publicHandler.GetCart)
			cart.POST("/items", publicHandler.AddCartItem)
			cart.PATCH("/items/:id", publicHandler.UpdateCartItem)
			cart.DELETE("/items/:id", publicHandler.RemoveCartItem)
			cart.POST("/promo", RateLimitMiddleware(redisClient, promoRule, KeyByUserOrIP), publicHandler.ApplyCartPromo)
			cart.DELETE("/promo", publicHandler.RemoveCartPromo)
			cart.GET("/quote", publicHandler.QuoteCart)
			cart.POST("/refresh", publicHandler.RefreshCart)
			cart.POST("/migrate", RequireUserAuth(cfg.JWT), publicHandler.MigrateCart)
		}

		apiV1.GET("/inventory/:stock_item_id", publicHandler.GetAvailability)

		// 用户接口
		authorized := apiV1.Group("", RequireUserAuth(cfg.JWT))
		{
			authorized.POST("/checkout", RateLimitMiddleware(redisClient, checkoutRule, KeyByUserOrIP), publicHandler.Checkout)
			authorized.GET("/orders", publicHandler.ListOrders)
			authorized.GET("/orders/:id", publicHandler.GetOrder)
			authorized.POST("/orders/:id/cancel", publicHandler.CancelOrder)
			authorized.POST("/orders/:id/payment/retry", RateLimitMiddleware(redisClient, checkoutRule, KeyByUserOrIP), publicHandler.RetryPayment)
		}

		// 支付回调
		payments := apiV1.Group("/payments")
		{
			payments.POST("/webhook/stripe", RateLimitMiddleware(redisClient, webhookRule, KeyByIP), publicHandler.HandleStripeWebhook)
		}

		// 管理端
		var enforcer RoleEnforcer
		if c.Authz != nil {
			enforcer = c.Authz
		}
		admin := apiV1.Group("/admin", RequireAdmin(cfg.JWT, enforcer))
		{
			admin.GET("/orders", adminHandler.AdminListOrders)
			admin.GET("/orders/export", adminHandler.AdminExportOrders)
			admin.GET("/orders/stream", adminHandler.AdminOrderStream)
			admin.GET("/orders/:id", adminHandler.AdminGetOrder)
			admin.PATCH("/orders/:id/status", adminHandler.AdminUpdateOrderStatus)

			admin.GET("/stock/:id", adminHandler.AdminGetStock)
			admin.PUT("/stock/:id", adminHandler.AdminSetStock)
			admin.POST("/stock/sweep", adminHandler.AdminSweepReservations)
			admin.GET("/reservations/:id", adminHandler.AdminGetReservation)

			admin.GET("/authz/roles", adminHandler.AdminListRoles)
			admin.GET("/authz/roles/:role/policies", adminHandler.AdminGetRolePolicies)
			admin.POST("/authz/roles/:role/policies", adminHandler.AdminGrantRolePolicy)
			admin.DELETE("/authz/roles/:role/policies", adminHandler.AdminRevokeRolePolicy)
		}
	}

	return r
}
