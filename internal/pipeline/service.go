package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finsense/internal/advice"
	"finsense/internal/portfolio"
	"finsense/internal/risk"
)

// StatusOK 为成功响应的状态值。
const StatusOK = "ok"

// SentimentSource 提供当日与前一日的市场状态，缺失时返回 nil。
type SentimentSource interface {
	Today(ctx context.Context) (*portfolio.MarketState, error)
	Yesterday(ctx context.Context) (*portfolio.MarketState, error)
}

// Recorder 持久化推荐结果与失败事件。
type Recorder interface {
	RecordAdvice(ctx context.Context, req Request, out Output)
	RecordError(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Advice 为面向用户的说明文本。
type Advice struct {
	Summary    string `json:"summary"`
	OneAction  string `json:"one_action"`
	Disclaimer string `json:"disclaimer"`
}

// Output 为一次建议请求的完整输出。
type Output struct {
	Status      string               `json:"status"`
	RunID       string               `json:"run_id"`
	Allocation  portfolio.Allocation `json:"allocation"`
	KPIs        portfolio.KPIs       `json:"kpis"`
	Alerts      []risk.Alert         `json:"alerts"`
	Diagnostics Diagnostics          `json:"diagnostics"`
	Advice      Advice               `json:"advice"`
	LatencyMS   int64                `json:"latency_ms"`
}

// ServiceOptions 控制建议服务参数。
type ServiceOptions struct {
	MaxWords   int
	BatchLimit int
}

// Service 在编排器之上补充情绪查询、说明文本与审计记录。
type Service struct {
	orch       *Orchestrator
	generator  advice.Generator
	sentiment  SentimentSource
	recorder   Recorder
	logger     *zap.Logger
	maxWords   int
	batchLimit int
	now        func() time.Time
	newID      func() string
}

// NewService 创建建议服务。generator 为空时使用本地固定文本，sentiment 与 recorder 可为空。
func NewService(orch *Orchestrator, generator advice.Generator, sentiment SentimentSource, recorder Recorder, logger *zap.Logger, opts ServiceOptions) *Service {
	if generator == nil {
		generator = advice.StaticGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = advice.DefaultMaxWords
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 4
	}
	return &Service{
		orch:       orch,
		generator:  generator,
		sentiment:  sentiment,
		recorder:   recorder,
		logger:     logger,
		maxWords:   opts.MaxWords,
		batchLimit: opts.BatchLimit,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// Orchestrator 返回底层编排器。
func (s *Service) Orchestrator() *Orchestrator {
	return s.orch
}

// Advise 执行推荐流水线并生成说明文本。
func (s *Service) Advise(ctx context.Context, req Request) (Output, error) {
	start := s.now()
	runID := s.newID()
	logger := s.logger.With(zap.String("run_id", runID))

	req = s.withSentiment(ctx, req, logger)

	rec, err := s.orch.Recommend(req)
	if err != nil {
		logger.Warn("推荐流水线失败", zap.Error(err))
		if s.recorder != nil {
			s.recorder.RecordError(ctx, "推荐流水线失败", err, map[string]interface{}{
				"run_id": runID,
				"stage":  stageOf(err),
			})
		}
		return Output{}, err
	}

	out := Output{
		Status:      StatusOK,
		RunID:       runID,
		Allocation:  rec.Allocation,
		KPIs:        rec.KPIs,
		Alerts:      rec.Alerts,
		Diagnostics: rec.Diagnostics,
		Advice: Advice{
			Summary:    s.summary(ctx, rec, logger),
			OneAction:  advice.DefaultOneAction,
			Disclaimer: advice.DefaultDisclaimer,
		},
	}
	out.LatencyMS = s.now().Sub(start).Milliseconds()

	logger.Info("推荐完成",
		zap.String("risk", string(rec.Diagnostics.Risk)),
		zap.Float64("equities", out.Allocation.Equities),
		zap.Float64("exp_vol_1y", out.KPIs.ExpVol1Y),
		zap.Int("alerts", len(out.Alerts)),
		zap.Int64("latency_ms", out.LatencyMS),
	)
	logger.Debug("配置计算过程",
		zap.Float64("baseline_eq", rec.Trace.BaselineEq),
		zap.Float64("tilt", rec.Trace.Tilt),
		zap.Float64("target_eq", rec.Trace.TargetEq),
		zap.Bool("equity_clamped", rec.Trace.EquityClamped),
	)

	if s.recorder != nil {
		s.recorder.RecordAdvice(ctx, req, out)
	}
	return out, nil
}

// AdviseBatch 并发处理多个请求，输出顺序与输入一致；任一失败则整体失败。
func (s *Service) AdviseBatch(ctx context.Context, reqs []Request) ([]Output, error) {
	outputs := make([]Output, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := s.Advise(gctx, req)
			if err != nil {
				return fmt.Errorf("pipeline: 第 %d 个请求失败: %w", i, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (s *Service) withSentiment(ctx context.Context, req Request, logger *zap.Logger) Request {
	if s.sentiment == nil {
		return req
	}
	if req.Market == nil {
		today, err := s.sentiment.Today(ctx)
		if err != nil {
			logger.Warn("读取当日情绪失败，按缺失处理", zap.Error(err))
		}
		req.Market = today
	}
	if req.PriorMarket == nil {
		prior, err := s.sentiment.Yesterday(ctx)
		if err != nil {
			logger.Warn("读取前一日情绪失败，按缺失处理", zap.Error(err))
		}
		req.PriorMarket = prior
	}
	return req
}

func (s *Service) summary(ctx context.Context, rec Recommendation, logger *zap.Logger) string {
	text, err := s.generator.Generate(ctx, advice.Input{
		Profile:    rec.Trace.Profile,
		Allocation: rec.Allocation,
		KPIs:       rec.KPIs,
		Alerts:     rec.Alerts,
	})
	if err != nil {
		logger.Warn("生成说明文本失败，使用本地文本", zap.Error(err))
		text = advice.FallbackSummary()
	}
	return advice.CapWords(text, s.maxWords)
}

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}
