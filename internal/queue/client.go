package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 支付相关队列
	CriticalQueue = constants.QueueCritical
)

// Client 队列客户端封装
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) error {
	options := append([]asynq.Option{asynq.Queue(c.defaultQueue)}, opts...)
	_, err := c.client.Enqueue(task, options...)
	return err
}

// EnqueueOrderStatusNotify 推送订单状态通知任务
func (c *Client) EnqueueOrderStatusNotify(payload OrderStatusNotifyPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewOrderStatusNotifyTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.MaxRetry(5))
}

// EnqueuePaymentReconcile 延迟推送支付对账任务
func (c *Client) EnqueuePaymentReconcile(payload PaymentReconcilePayload, delay time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	task, err := NewPaymentReconcileTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.Queue(CriticalQueue), asynq.ProcessIn(delay), asynq.MaxRetry(3))
}

// EnqueueInventorySweep 推送预占清扫任务，同一周期内只保留一个
func (c *Client) EnqueueInventorySweep(limit int, window time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewInventorySweepTask(SweepPayload{Limit: limit})
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.Unique(window), asynq.MaxRetry(0))
}

// EnqueueCartPurge 推送购物车清理任务，同一周期内只保留一个
func (c *Client) EnqueueCartPurge(limit int, window time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewCartPurgeTask(SweepPayload{Limit: limit})
	if err != nil {
		return err
	}
	return c.enqueue(task, asynq.Unique(window), asynq.MaxRetry(0))
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1, CriticalQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
