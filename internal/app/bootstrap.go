package app

import (
	"errors"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/logger"
	"github.com/motorcart-next/internal/provider"
	"github.com/motorcart-next/internal/router"
	"github.com/motorcart-next/internal/worker"

	"go.uber.org/zap"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string, base *zap.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	container, err := provider.NewContainer(cfg, base)
	if err != nil {
		return nil, err
	}

	services, err := buildServices(cfg, mode, container)
	if err != nil {
		_ = container.Close()
		return nil, err
	}

	runner := NewRunner(services...)
	runner.OnClose(container.Close)
	return runner, nil
}

func buildServices(cfg *config.Config, mode string, container *provider.Container) ([]Service, error) {
	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		httpService := NewHTTPService(addr, engine, logger.StdLogger(container.Logger))
		services = append(services, httpService)
	}

	// 初始化 Worker 与周期调度；队列关闭时调度在进程内直接执行
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		}
		services = append(services, worker.NewScheduler(consumer, container.QueueClient, cfg.Inventory, cfg.Cart))
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}
	return services, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode, opts.Logger.Desugar())
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
