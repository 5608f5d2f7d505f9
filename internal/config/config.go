package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Cart      CartConfig      `mapstructure:"cart"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Order     OrderConfig     `mapstructure:"order"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// ConfigFile 实际加载的配置文件，未找到时为空
	ConfigFile string `mapstructure:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig JWT 配置（仅校验身份，签发由上游认证服务负责）
type JWTConfig struct {
	SecretKey string `mapstructure:"secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// InventoryConfig 库存预占配置
type InventoryConfig struct {
	ReservationTTLMinutes    int `mapstructure:"reservation_ttl_minutes"`
	SweepIntervalSeconds     int `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize           int `mapstructure:"sweep_batch_size"`
	DefaultLowStockThreshold int `mapstructure:"default_low_stock_threshold"`
}

// ReservationTTL 预占时长
func (c InventoryConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLMinutes) * time.Minute
}

// SweepInterval 过期清扫间隔
func (c InventoryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// CartConfig 购物车配置
type CartConfig struct {
	TTLHours             int `mapstructure:"ttl_hours"`
	MaxItemQuantity      int `mapstructure:"max_item_quantity"`
	PurgeIntervalSeconds int `mapstructure:"purge_interval_seconds"`
	PurgeBatchSize       int `mapstructure:"purge_batch_size"`
	LockTTLSeconds       int `mapstructure:"lock_ttl_seconds"`
}

// TTL 购物车有效期
func (c CartConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// PurgeInterval 过期购物车清理间隔
func (c CartConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}

// LockTTL 单购物车互斥锁时长
func (c CartConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// PricingConfig 定价配置
type PricingConfig struct {
	Currency       string             `mapstructure:"currency"`
	TaxRate        float64            `mapstructure:"tax_rate"`
	RegionTaxRates map[string]float64 `mapstructure:"region_tax_rates"`
}

// OrderConfig 订单配置
type OrderConfig struct {
	RereserveExpiredOnCheckout bool    `mapstructure:"rereserve_expired_on_checkout"`
	TotalTolerance             float64 `mapstructure:"total_tolerance"`
}

// PaymentConfig 支付配置
type PaymentConfig struct {
	Provider              string       `mapstructure:"provider"` // stripe / manual
	TimeoutSeconds        int          `mapstructure:"timeout_seconds"`
	ReconcileDelaySeconds int          `mapstructure:"reconcile_delay_seconds"`
	ReconcileMaxAttempts  int          `mapstructure:"reconcile_max_attempts"`
	EventDedupTTLHours    int          `mapstructure:"event_dedup_ttl_hours"`
	Stripe                StripeConfig `mapstructure:"stripe"`
}

// Timeout 网关调用超时
func (c PaymentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReconcileDelay 超时后对账延迟
func (c PaymentConfig) ReconcileDelay() time.Duration {
	return time.Duration(c.ReconcileDelaySeconds) * time.Second
}

// StripeConfig Stripe 配置
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CaptureMethod string `mapstructure:"capture_method"` // automatic / manual
	APIBase       string `mapstructure:"api_base"`
}

// EventsConfig 事件发布配置
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitRuleConfig 单条限流规则，任一值非正时不限流
type RateLimitRuleConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// RateLimitConfig 限流配置（依赖 redis）
type RateLimitConfig struct {
	Checkout RateLimitRuleConfig `mapstructure:"checkout"`
	Promo    RateLimitRuleConfig `mapstructure:"promo"`
	Webhook  RateLimitRuleConfig `mapstructure:"webhook"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "motorcart.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/motorcart.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mc")
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Cart-Session",
		"Idempotency-Key",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("inventory.reservation_ttl_minutes", 20)
	v.SetDefault("inventory.sweep_interval_seconds", 60)
	v.SetDefault("inventory.sweep_batch_size", 200)
	v.SetDefault("inventory.default_low_stock_threshold", 2)
	v.SetDefault("cart.ttl_hours", 72)
	v.SetDefault("cart.max_item_quantity", 10)
	v.SetDefault("cart.purge_interval_seconds", 600)
	v.SetDefault("cart.purge_batch_size", 100)
	v.SetDefault("cart.lock_ttl_seconds", 10)
	v.SetDefault("pricing.currency", "USD")
	v.SetDefault("pricing.tax_rate", 0.08)
	v.SetDefault("pricing.region_tax_rates", map[string]float64{})
	v.SetDefault("order.rereserve_expired_on_checkout", false)
	v.SetDefault("order.total_tolerance", 0.01)
	v.SetDefault("payment.provider", "manual")
	v.SetDefault("payment.timeout_seconds", 15)
	v.SetDefault("payment.reconcile_delay_seconds", 60)
	v.SetDefault("payment.reconcile_max_attempts", 3)
	v.SetDefault("payment.event_dedup_ttl_hours", 48)
	v.SetDefault("payment.stripe.secret_key", "")
	v.SetDefault("payment.stripe.webhook_secret", "")
	v.SetDefault("payment.stripe.capture_method", "manual")
	v.SetDefault("payment.stripe.api_base", "")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("events.topic", "motorcart.order-events")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("rate_limit.checkout.window_seconds", 60)
	v.SetDefault("rate_limit.checkout.max_requests", 10)
	v.SetDefault("rate_limit.promo.window_seconds", 300)
	v.SetDefault("rate_limit.promo.max_requests", 20)
	v.SetDefault("rate_limit.webhook.window_seconds", 60)
	v.SetDefault("rate_limit.webhook.max_requests", 600)
}

// Load 从 .env 与 config.yml 加载配置，环境变量优先
func Load() (*Config, error) {
	// .env 不存在时忽略，已有的环境变量不会被覆盖
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")   // 从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // server.port -> SERVER_PORT

	configFile := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		configFile = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("配置解析失败: %w", err)
	}
	cfg.ConfigFile = configFile
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键配置
func (c *Config) Validate() error {
	if c.Inventory.ReservationTTLMinutes <= 0 {
		return errors.New("inventory.reservation_ttl_minutes must be positive")
	}
	if c.Cart.TTLHours <= 0 {
		return errors.New("cart.ttl_hours must be positive")
	}
	if c.Cart.MaxItemQuantity <= 0 {
		return errors.New("cart.max_item_quantity must be positive")
	}
	if c.Pricing.TaxRate < 0 {
		return errors.New("pricing.tax_rate must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Payment.Provider)) {
	case "manual":
	case "stripe":
		if strings.TrimSpace(c.Payment.Stripe.SecretKey) == "" {
			return errors.New("payment.stripe.secret_key is required when payment.provider=stripe")
		}
	default:
		return fmt.Errorf("unsupported payment.provider %q", c.Payment.Provider)
	}
	return nil
}
