package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsense/internal/kpi"
	"finsense/internal/portfolio"
	"finsense/internal/risk"
)

// blendEstimator 以固定线性组合给出 KPI，不做抽样。
type blendEstimator struct{}

func (blendEstimator) Estimate(a portfolio.Allocation, _ int64) (portfolio.KPIs, kpi.Moments) {
	ret := 0.07*a.Equities + 0.03*a.Bonds + 0.01*a.Cash
	vol := 0.16*a.Equities + 0.05*a.Bonds
	return portfolio.KPIs{
		ExpReturn1Y: portfolio.RoundTo(ret, 4),
		ExpVol1Y:    portfolio.RoundTo(vol, 4),
		MaxDrawdown: portfolio.RoundTo(-0.8*vol, 4),
	}, kpi.Moments{Mu: ret, Sigma: vol}
}

type nanEstimator struct{}

func (nanEstimator) Estimate(portfolio.Allocation, int64) (portfolio.KPIs, kpi.Moments) {
	return portfolio.KPIs{ExpVol1Y: math.NaN()}, kpi.Moments{}
}

func newTestOrchestrator(est KPIEstimator) *Orchestrator {
	loc, _ := time.LoadLocation("Europe/London")
	o := NewOrchestrator(est, Options{DefaultSeed: 42, Location: loc})
	o.now = func() time.Time { return time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC) }
	return o
}

func TestRecommend_ModerateScenario(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})

	rec, err := o.Recommend(Request{
		Profile: portfolio.Profile{Age: 30, Risk: portfolio.RiskModerate, HorizonYears: 5},
		Market:  &portfolio.MarketState{SentimentLabel: portfolio.SentimentNeutral, SentimentConfidence: 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, portfolio.Allocation{Equities: 0.65, Bonds: 0.28, Cash: 0.07}, rec.Allocation)
	assert.InDelta(t, 1.0, rec.Allocation.Sum(), 1e-9)
	assert.Equal(t, 0.118, rec.KPIs.ExpVol1Y)
	assert.NotNil(t, rec.Alerts)
	assert.Empty(t, rec.Alerts)

	d := rec.Diagnostics
	assert.Equal(t, 30, d.Age)
	assert.Equal(t, 5, d.HorizonYears)
	assert.Equal(t, portfolio.RiskModerate, d.Risk)
	assert.Equal(t, portfolio.SentimentNeutral, d.Sentiment)
	assert.Equal(t, 0.5, d.Confidence)
	assert.Equal(t, int64(42), d.Seed)
	assert.Equal(t, EngineName, d.Engine)
	assert.Equal(t, "2025-10-01T07:00:00+01:00", d.AsOf)
	assert.True(t, rec.Trace.EquityClamped)
}

func TestRecommend_DefaultsForMissingInputs(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})

	rec, err := o.Recommend(Request{})
	require.NoError(t, err)

	assert.Equal(t, portfolio.DefaultAge, rec.Diagnostics.Age)
	assert.Equal(t, portfolio.DefaultHorizon, rec.Diagnostics.HorizonYears)
	assert.Equal(t, portfolio.RiskModerate, rec.Diagnostics.Risk)
	assert.Equal(t, portfolio.SentimentNeutral, rec.Diagnostics.Sentiment)
	assert.Equal(t, portfolio.DefaultConfidence, rec.Diagnostics.Confidence)
	assert.Equal(t, 0.65, rec.Allocation.Equities)
}

func TestRecommend_AlertsInRuleOrder(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})

	rec, err := o.Recommend(Request{
		Profile:     portfolio.Profile{Age: 30, Risk: portfolio.RiskAggressive, HorizonYears: 5},
		Market:      &portfolio.MarketState{SentimentLabel: portfolio.SentimentBullish, SentimentConfidence: 1},
		PriorMarket: &portfolio.MarketState{SentimentLabel: portfolio.SentimentBearish, SentimentConfidence: 0.9},
	})
	require.NoError(t, err)

	assert.Equal(t, portfolio.Allocation{Equities: 0.85, Bonds: 0.12, Cash: 0.03}, rec.Allocation)
	require.Len(t, rec.Alerts, 3)
	assert.Equal(t, risk.AlertVolSpike, rec.Alerts[0].Type)
	assert.Equal(t, risk.SeverityMedium, rec.Alerts[0].Severity)
	assert.Equal(t, risk.AlertEquityConcentration, rec.Alerts[1].Type)
	assert.Equal(t, risk.AlertSentimentFlip, rec.Alerts[2].Type)
}

func TestRecommend_CustomBandAndSeed(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})
	seed := int64(7)

	rec, err := o.Recommend(Request{
		Profile: portfolio.Profile{Age: 60, Risk: portfolio.RiskConservative, HorizonYears: 10},
		Band:    &portfolio.RiskBand{MinEq: 0.5, MaxEq: 0.6},
		Seed:    &seed,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Allocation.Equities)
	assert.Equal(t, 0.425, rec.Allocation.Bonds)
	assert.Equal(t, 0.075, rec.Allocation.Cash)
	assert.Equal(t, int64(7), rec.Diagnostics.Seed)
}

func TestRecommend_RoundingStaysInsideFineGrainedBand(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})
	band := portfolio.RiskBand{MinEq: 0.4504, MaxEq: 0.65}

	rec, err := o.Recommend(Request{
		Profile: portfolio.Profile{Age: 60, Risk: portfolio.RiskModerate, HorizonYears: 5},
		Band:    &band,
	})
	require.NoError(t, err)

	assert.Equal(t, portfolio.Allocation{Equities: 0.451, Bonds: 0.44, Cash: 0.109}, rec.Allocation)
	assert.True(t, band.Contains(rec.Allocation.Equities))
	for _, a := range rec.Alerts {
		assert.NotEqual(t, risk.AlertExposureMismatch, a.Type)
	}

	_, err = o.Recommend(Request{Band: &portfolio.RiskBand{MinEq: 0.4504, MaxEq: 0.4506}})
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageRound, se.Stage)
	assert.True(t, errors.Is(err, portfolio.ErrInvalidBand))
}

func TestRun_MonteCarloIsDeterministic(t *testing.T) {
	o := newTestOrchestrator(kpi.NewEstimator(kpi.Config{}))
	req := Request{Profile: portfolio.Profile{Age: 48, Risk: "balanced", HorizonYears: 12}}

	first, err := o.Run(req)
	require.NoError(t, err)
	second, err := o.Run(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Greater(t, first.KPIs.ExpVol1Y, 0.0)
	assert.Equal(t, portfolio.RoundTo(-0.8*first.KPIs.ExpVol1Y, 4), first.KPIs.MaxDrawdown)
}

func TestRecommend_StageErrors(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})

	_, err := o.Recommend(Request{Band: &portfolio.RiskBand{MinEq: 0.7, MaxEq: 0.3}})
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageAllocate, se.Stage)
	assert.True(t, errors.Is(err, portfolio.ErrInvalidBand))

	_, err = o.Recommend(Request{Market: &portfolio.MarketState{SentimentConfidence: math.NaN()}})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageAllocate, se.Stage)
	assert.True(t, errors.Is(err, portfolio.ErrInvalidMarket))

	_, err = o.Recommend(Request{PriorMarket: &portfolio.MarketState{SentimentConfidence: math.Inf(1)}})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageAlerts, se.Stage)

	_, err = newTestOrchestrator(nanEstimator{}).Recommend(Request{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageEstimate, se.Stage)

	_, err = newTestOrchestrator(nil).Recommend(Request{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageEstimate, se.Stage)
}

func TestEvaluateAlerts(t *testing.T) {
	o := newTestOrchestrator(blendEstimator{})
	band := portfolio.BandFor(portfolio.RiskModerate)

	alerts, err := o.EvaluateAlerts(AlertsRequest{
		Allocation: portfolio.Allocation{Equities: 0.8, Bonds: 0.15, Cash: 0.05},
		KPIs:       portfolio.KPIs{ExpVol1Y: 0.18},
		Band:       &band,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, risk.AlertVolSpike, alerts[0].Type)
	assert.Equal(t, risk.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, risk.AlertEquityConcentration, alerts[1].Type)
	assert.Equal(t, risk.AlertExposureMismatch, alerts[2].Type)

	alerts, err = o.EvaluateAlerts(AlertsRequest{
		Allocation:  portfolio.Allocation{Equities: 0.5, Bonds: 0.4, Cash: 0.1},
		KPIs:        portfolio.KPIs{ExpVol1Y: 0.05},
		Market:      &portfolio.MarketState{SentimentLabel: portfolio.SentimentBearish},
		PriorMarket: &portfolio.MarketState{SentimentLabel: portfolio.SentimentBullish},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, risk.AlertSentimentFlip, alerts[0].Type)

	_, err = o.EvaluateAlerts(AlertsRequest{Allocation: portfolio.Allocation{Equities: -0.1}})
	assert.True(t, errors.Is(err, portfolio.ErrInvalidAllocation))

	_, err = o.EvaluateAlerts(AlertsRequest{
		Allocation: portfolio.Allocation{Equities: 0.5, Bonds: 0.5},
		Band:       &portfolio.RiskBand{MinEq: 0.9, MaxEq: 0.1},
	})
	assert.True(t, errors.Is(err, portfolio.ErrInvalidBand))
}
