package cli

import (
	"context"

	"go.uber.org/zap"

	"inferbench/config"
	"inferbench/internal/bench"
	"inferbench/internal/dataset"
	"inferbench/internal/evaluation"
	"inferbench/internal/inference"
	"inferbench/internal/logger"
	"inferbench/internal/metrics"
	"inferbench/internal/model"
	"inferbench/internal/monitor"
	"inferbench/internal/storage"
)

// app 按配置组装好的服务组件。所有命令共用同一套装配逻辑，
// serve在此之上再挂REST服务器。
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   inference.Client
	source   *dataset.Source
	store    storage.ResultStore
	registry *bench.Registry
	mon      *monitor.Monitor
}

// buildApp 加载配置并装配全部组件。推理客户端按
// 监控→指标的顺序包装，两层都只在对应开关打开时生效。
func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, err
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon, err = monitor.NewMonitor(cfg.Monitor, log)
		if err != nil {
			return nil, err
		}
	}

	var client inference.Client = inference.NewOllamaClient(cfg.Ollama, log)
	client = monitor.WrapClient(client, mon)
	if cfg.Metrics.Enabled {
		client = metrics.InstrumentClient(client)
	}

	source, err := dataset.NewSource(cfg.Evaluation.DatasetsDir, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	opts := []bench.Option{}
	if cfg.Bench.SystemSampleIntervalMs > 0 {
		opts = append(opts, bench.WithSampleInterval(cfg.Bench.SystemSampleInterval()))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, bench.WithOutcomeObserver(func(o model.RequestOutcome) {
			metrics.RecordBenchRequest(o.Success)
		}))
	}

	runner := bench.NewLoadRunner(client, log, opts...)
	evaluator := evaluation.NewRunner(client, source, log)
	registry := bench.NewRegistry(cfg, runner, evaluator, source, store, log)

	return &app{
		cfg:      cfg,
		logger:   log,
		client:   client,
		source:   source,
		store:    store,
		registry: registry,
		mon:      mon,
	}, nil
}

// close 按启动的相反顺序收尾：先等在跑的测试退出（期间可能还在
// 写结果），再关存储和监控循环。
func (a *app) close(ctx context.Context) {
	if err := a.registry.Close(ctx); err != nil {
		a.logger.Warn("registry shutdown incomplete", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("result store close failed", zap.Error(err))
	}
	if a.mon != nil {
		a.mon.Stop()
	}
	logger.Sync()
}