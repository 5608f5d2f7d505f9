package worker

import (
	"context"
	"errors"
	"time"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/queue"

	"github.com/hibiken/asynq"
)

const reconcileSweepInterval = 5 * time.Minute

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// sweepEnqueuer 队列可用时由 worker 执行清扫
type sweepEnqueuer interface {
	Enabled() bool
	EnqueueInventorySweep(limit int, window time.Duration) error
	EnqueueCartPurge(limit int, window time.Duration) error
}

// Scheduler 周期清扫：过期预占、过期购物车、滞留待支付订单
type Scheduler struct {
	consumer      *Consumer
	tasks         sweepEnqueuer
	sweepInterval time.Duration
	purgeInterval time.Duration
	reconcileTick time.Duration
}

// NewScheduler 创建周期调度，队列未启用时在进程内直接执行
func NewScheduler(consumer *Consumer, tasks sweepEnqueuer, inventory config.InventoryConfig, cart config.CartConfig) *Scheduler {
	return &Scheduler{
		consumer:      consumer,
		tasks:         tasks,
		sweepInterval: positiveOr(inventory.SweepInterval(), time.Minute),
		purgeInterval: positiveOr(cart.PurgeInterval(), 10*time.Minute),
		reconcileTick: reconcileSweepInterval,
	}
}

// Name 服务名称
func (s *Scheduler) Name() string { return "scheduler" }

// Start 阻塞直到 ctx 结束
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil {
		return errors.New("scheduler not initialized")
	}
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(s.purgeInterval)
	defer purge.Stop()
	reconcile := time.NewTicker(s.reconcileTick)
	defer reconcile.Stop()

	s.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			s.runSweep(ctx)
		case <-purge.C:
			s.runPurge(ctx)
		case <-reconcile.C:
			s.runReconcile(ctx)
		}
	}
}

// Stop 由 Start 的 ctx 控制退出
func (s *Scheduler) Stop(context.Context) error { return nil }

func (s *Scheduler) queued() bool {
	return s.tasks != nil && s.tasks.Enabled()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if s.queued() {
		if err := s.tasks.EnqueueInventorySweep(s.consumer.sweepBatch, s.sweepInterval); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			s.consumer.log.Warnw("scheduler_enqueue_inventory_sweep_failed", "error", err)
		}
		return
	}
	_ = s.consumer.handleInventorySweep(ctx, nil)
}

func (s *Scheduler) runPurge(ctx context.Context) {
	if s.queued() {
		if err := s.tasks.EnqueueCartPurge(s.consumer.purgeBatch, s.purgeInterval); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			s.consumer.log.Warnw("scheduler_enqueue_cart_purge_failed", "error", err)
		}
		return
	}
	_ = s.consumer.handleCartPurge(ctx, nil)
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	resolved, err := s.consumer.orders.ReconcilePending(ctx, s.consumer.sweepBatch)
	if err != nil {
		s.consumer.log.Warnw("scheduler_reconcile_pending_failed", "error", err)
		return
	}
	if resolved > 0 {
		s.consumer.log.Infow("scheduler_reconcile_pending_done", "resolved", resolved)
	}
}

func positiveOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
