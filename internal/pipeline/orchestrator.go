package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"finsense/internal/kpi"
	"finsense/internal/portfolio"
	"finsense/internal/risk"
)

// EngineName 标识配置与 KPI 的计算方法。
const EngineName = "EPQ-mix+MC"

const momentPlaces = 5

// Stage 表示流水线阶段。
type Stage string

const (
	StageAllocate Stage = "allocate"
	StageRound    Stage = "round"
	StageEstimate Stage = "estimate"
	StageAlerts   Stage = "alerts"
)

// StageError 包装某阶段的前置条件失败。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s 阶段失败: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// KPIEstimator 由配置估计风险收益指标，需对相同输入与种子给出相同结果。
type KPIEstimator interface {
	Estimate(a portfolio.Allocation, seed int64) (portfolio.KPIs, kpi.Moments)
}

// Request 为一次推荐的输入。Band 为空时按风险等级查表；Seed 为空时使用默认种子。
type Request struct {
	Profile     portfolio.Profile      `json:"profile"`
	Band        *portfolio.RiskBand    `json:"band,omitempty"`
	Market      *portfolio.MarketState `json:"market,omitempty"`
	PriorMarket *portfolio.MarketState `json:"prior_market,omitempty"`
	Seed        *int64                 `json:"seed,omitempty"`
}

// Result 为流水线输出。
type Result struct {
	Allocation portfolio.Allocation `json:"allocation"`
	KPIs       portfolio.KPIs       `json:"kpis"`
	Alerts     []risk.Alert         `json:"alerts"`
}

// Diagnostics 记录推荐所用的解析后输入与中间量。
type Diagnostics struct {
	Age          int                      `json:"age"`
	HorizonYears int                      `json:"horizon_years"`
	Risk         portfolio.RiskLevel      `json:"risk"`
	MuPort       float64                  `json:"mu_port"`
	SigmaPort    float64                  `json:"sigma_port"`
	Sentiment    portfolio.SentimentLabel `json:"sentiment"`
	Confidence   float64                  `json:"confidence"`
	Seed         int64                    `json:"seed"`
	AsOf         string                   `json:"asof"`
	Engine       string                   `json:"engine"`
}

// Recommendation 为带诊断信息的流水线输出。
type Recommendation struct {
	Result
	Diagnostics Diagnostics     `json:"diagnostics"`
	Trace       portfolio.Trace `json:"-"`
}

// AlertsRequest 为独立告警评估的输入。
type AlertsRequest struct {
	Allocation  portfolio.Allocation   `json:"allocation"`
	KPIs        portfolio.KPIs         `json:"kpis"`
	Market      *portfolio.MarketState `json:"market,omitempty"`
	PriorMarket *portfolio.MarketState `json:"prior_market,omitempty"`
	Band        *portfolio.RiskBand    `json:"band,omitempty"`
}

// Options 控制编排器参数。
type Options struct {
	RoundPlaces int
	DefaultSeed int64
	Location    *time.Location
	Thresholds  risk.Thresholds
}

// Orchestrator 依次执行配置、取整、KPI 估计与告警四个阶段，无状态，可并发调用。
type Orchestrator struct {
	estimator   KPIEstimator
	alerts      *risk.Evaluator
	places      int
	defaultSeed int64
	loc         *time.Location
	now         func() time.Time
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(estimator KPIEstimator, opts Options) *Orchestrator {
	if opts.RoundPlaces <= 0 {
		opts.RoundPlaces = portfolio.DefaultPlaces
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Orchestrator{
		estimator:   estimator,
		alerts:      risk.NewEvaluator(opts.Thresholds),
		places:      opts.RoundPlaces,
		defaultSeed: opts.DefaultSeed,
		loc:         opts.Location,
		now:         time.Now,
	}
}

// Places 返回推荐结果使用的取整位数。
func (o *Orchestrator) Places() int {
	return o.places
}

// Run 返回配置、KPI 与告警。
func (o *Orchestrator) Run(req Request) (Result, error) {
	rec, err := o.Recommend(req)
	if err != nil {
		return Result{}, err
	}
	return rec.Result, nil
}

// Recommend 执行完整流水线并附带诊断信息。
func (o *Orchestrator) Recommend(req Request) (Recommendation, error) {
	if o.estimator == nil {
		return Recommendation{}, stageErr(StageEstimate, errors.New("未配置 KPI 估计器"))
	}

	profile := portfolio.NormalizeProfile(req.Profile)
	band := portfolio.BandFor(profile.Risk)
	if req.Band != nil {
		band = *req.Band
	}

	raw, trace, err := portfolio.ComputeRawAllocation(profile, band, req.Market)
	if err != nil {
		return Recommendation{}, stageErr(StageAllocate, err)
	}

	alloc, err := portfolio.RoundWithinBand(raw, o.places, band)
	if err != nil {
		return Recommendation{}, stageErr(StageRound, err)
	}

	seed := o.defaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}
	kpis, moments := o.estimator.Estimate(alloc, seed)
	if !finite(kpis.ExpReturn1Y, kpis.ExpVol1Y, kpis.MaxDrawdown) {
		return Recommendation{}, stageErr(StageEstimate, fmt.Errorf("KPI 非有限值: %+v", kpis))
	}

	today := trace.Market
	prior, err := normalizePrior(req.PriorMarket)
	if err != nil {
		return Recommendation{}, stageErr(StageAlerts, err)
	}
	alerts := o.alerts.Evaluate(risk.AlertInput{
		Allocation: alloc,
		KPIs:       kpis,
		Today:      &today,
		Yesterday:  prior,
		Band:       &band,
	})

	asof := today.AsOf
	if asof.IsZero() {
		asof = o.now()
	}

	return Recommendation{
		Result: Result{
			Allocation: alloc,
			KPIs:       kpis,
			Alerts:     alerts,
		},
		Diagnostics: Diagnostics{
			Age:          trace.Profile.Age,
			HorizonYears: trace.Profile.HorizonYears,
			Risk:         trace.Profile.Risk,
			MuPort:       portfolio.RoundTo(moments.Mu, momentPlaces),
			SigmaPort:    portfolio.RoundTo(moments.Sigma, momentPlaces),
			Sentiment:    today.SentimentLabel,
			Confidence:   today.SentimentConfidence,
			Seed:         seed,
			AsOf:         asof.In(o.loc).Format(time.RFC3339),
			Engine:       EngineName,
		},
		Trace: trace,
	}, nil
}

// EvaluateAlerts 对调用方给定的配置与 KPI 执行告警规则。
func (o *Orchestrator) EvaluateAlerts(req AlertsRequest) ([]risk.Alert, error) {
	if err := portfolio.ValidateAllocation(req.Allocation); err != nil {
		return nil, stageErr(StageAlerts, err)
	}
	if req.Band != nil {
		if err := portfolio.ValidateBand(*req.Band); err != nil {
			return nil, stageErr(StageAlerts, err)
		}
	}
	if !finite(req.KPIs.ExpReturn1Y, req.KPIs.ExpVol1Y, req.KPIs.MaxDrawdown) {
		return nil, stageErr(StageAlerts, fmt.Errorf("%w: KPI 非有限值", portfolio.ErrInvalidAllocation))
	}

	today, err := portfolio.NormalizeMarket(req.Market)
	if err != nil {
		return nil, stageErr(StageAlerts, err)
	}
	prior, err := normalizePrior(req.PriorMarket)
	if err != nil {
		return nil, stageErr(StageAlerts, err)
	}

	return o.alerts.Evaluate(risk.AlertInput{
		Allocation: req.Allocation,
		KPIs:       req.KPIs,
		Today:      &today,
		Yesterday:  prior,
		Band:       req.Band,
	}), nil
}

func normalizePrior(m *portfolio.MarketState) (*portfolio.MarketState, error) {
	if m == nil {
		return nil, nil
	}
	prior, err := portfolio.NormalizeMarket(m)
	if err != nil {
		return nil, err
	}
	return &prior, nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
