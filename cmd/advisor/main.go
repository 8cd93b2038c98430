package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"finsense/internal/app"
	"finsense/internal/config"
	"finsense/internal/log"
	"finsense/internal/store"
)

func main() {
	var (
		configPath  string
		addr        string
		checkConfig bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&addr, "addr", "", "覆盖 server.addr")
	flag.BoolVar(&checkConfig, "check-config", false, "只校验配置后退出")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if checkConfig {
		fmt.Printf("配置有效: environment=%s addr=%s timezone=%s\n",
			cfg.App.Environment, cfg.Server.Addr, cfg.App.Location())
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, log.Component(logger, "app"), sqliteStore).Run(ctx); err != nil {
		logger.Error("服务运行异常", zap.Error(err))
		return err
	}

	logger.Info("服务已安全退出")
	return nil
}
