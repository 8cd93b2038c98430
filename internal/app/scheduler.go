package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"finsense/internal/sentiment"
)

// job 为定时任务。
type job interface {
	Name() string
	Run(ctx context.Context) error
}

// scheduler 基于 cron 调度后台任务，时间按配置时区解释。
type scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	logger *zap.Logger
}

func newScheduler(ctx context.Context, loc *time.Location, logger *zap.Logger) *scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &scheduler{
		ctx:    ctx,
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger.Named("scheduler"),
	}
}

func (s *scheduler) Start() {
	s.cron.Start()
	s.logger.Info("定时任务已启动")
}

func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("定时任务已停止")
}

// AddJob 使用标准五段式 cron 表达式注册任务。
func (s *scheduler) AddJob(schedule string, j job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(j); err != nil {
			s.logger.Error("定时任务执行失败", zap.String("job", j.Name()), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.logger.Info("定时任务已注册", zap.String("job", j.Name()), zap.String("schedule", schedule))
	return nil
}

// RunNow 立即执行任务。
func (s *scheduler) RunNow(j job) error {
	start := time.Now()
	err := j.Run(s.ctx)
	s.logger.Debug("定时任务执行完成",
		zap.String("job", j.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	return err
}

// sentimentImportJob 把当日快照文件导入缓存。
type sentimentImportJob struct {
	provider *sentiment.Provider
}

func (j *sentimentImportJob) Name() string {
	return "sentiment_import"
}

func (j *sentimentImportJob) Run(ctx context.Context) error {
	return j.provider.ImportToday(ctx)
}
