package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finsense/internal/advice"
	"finsense/internal/config"
	"finsense/internal/kpi"
	"finsense/internal/monitor"
	"finsense/internal/pipeline"
	"finsense/internal/risk"
	"finsense/internal/sentiment"
	"finsense/internal/store"
)

const shutdownTimeout = 5 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// components 为一次运行装配好的业务组件。
type components struct {
	service    *pipeline.Service
	sentiment  *sentiment.Provider
	classifier *sentiment.Classifier
	monitor    *monitor.Service
	store      *store.Store
	maxBatch   int
	places     int
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*components, error) {
	loc := cfg.App.Location()

	monitorSvc, err := monitor.NewService(ctx, st, logger.Named("monitor"))
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	cache, err := sentiment.NewCache(ctx, st, loc, logger.Named("sentiment"))
	if err != nil {
		return nil, fmt.Errorf("初始化情绪缓存失败: %w", err)
	}
	var files *sentiment.FileSource
	if cfg.Sentiment.Dir != "" {
		files = sentiment.NewFileSource(cfg.Sentiment.Dir, loc)
	}
	provider := sentiment.NewProvider(cache, files, monitorSvc, logger.Named("sentiment"))

	estimator := kpi.NewEstimator(kpi.Config{
		Paths: cfg.Engine.MCPaths,
		DT:    cfg.Engine.DT,
	})
	orch := pipeline.NewOrchestrator(estimator, pipeline.Options{
		RoundPlaces: cfg.Engine.RoundPlaces,
		DefaultSeed: cfg.Engine.DefaultSeed,
		Location:    loc,
		Thresholds:  risk.DefaultThresholds(),
	})

	svc := pipeline.NewService(orch, newGenerator(cfg.Advice, logger), provider, monitorSvc,
		logger.Named("pipeline"), pipeline.ServiceOptions{
			MaxWords:   cfg.Advice.MaxWords,
			BatchLimit: cfg.Server.BatchLimit,
		})

	return &components{
		service:    svc,
		sentiment:  provider,
		classifier: sentiment.NewClassifier(cfg.Sentiment.RSIPeriod, cfg.Sentiment.EMAPeriod),
		monitor:    monitorSvc,
		store:      st,
		maxBatch:   cfg.Server.MaxBatchSize,
		places:     orch.Places(),
	}, nil
}

func newGenerator(cfg config.AdviceConfig, logger *zap.Logger) advice.Generator {
	if !cfg.Enabled {
		return advice.StaticGenerator{}
	}
	gen, err := advice.NewOpenAIGenerator(cfg, logger.Named("advice"))
	if err != nil {
		logger.Warn("初始化建议生成器失败，使用本地文本", zap.Error(err))
		return advice.StaticGenerator{}
	}
	return gen
}

// Run 启动定时任务与 HTTP 服务，阻塞直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("推荐服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("timezone", a.cfg.App.Location().String()),
		zap.Bool("advice_enabled", a.cfg.Advice.Enabled),
	)

	comps, err := buildComponents(ctx, a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	sched := newScheduler(ctx, a.cfg.App.Location(), a.logger)
	importJob := &sentimentImportJob{provider: comps.sentiment}
	if a.cfg.Sentiment.RefreshSchedule != "" {
		if err := sched.AddJob(a.cfg.Sentiment.RefreshSchedule, importJob); err != nil {
			return fmt.Errorf("注册情绪导入任务失败: %w", err)
		}
	}
	if err := sched.RunNow(importJob); err != nil {
		a.logger.Warn("启动时导入情绪快照失败", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newRouter(comps, a.logger.Named("http")),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("HTTP 接口已启动", zap.String("addr", a.cfg.Server.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("系统收到退出信号，正在停止")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}
