package portfolio

import (
	"fmt"
	"math"
)

const (
	MinAge     = 16
	MaxAge     = 100
	MinHorizon = 1
	MaxHorizon = 40

	DefaultAge        = 35
	DefaultHorizon    = 5
	DefaultConfidence = 0.5
)

var riskBands = map[RiskLevel]RiskBand{
	RiskConservative: {MinEq: 0.20, MaxEq: 0.45},
	RiskModerate:     {MinEq: 0.45, MaxEq: 0.65},
	RiskAggressive:   {MinEq: 0.65, MaxEq: 0.85},
}

// BandFor 返回风险等级对应的权益区间，未知等级回落到 moderate。
func BandFor(risk RiskLevel) RiskBand {
	level, _ := ParseRiskLevel(string(risk))
	return riskBands[level]
}

// ValidateBand 校验区间位于 [0,1] 且 min_eq <= max_eq。
func ValidateBand(b RiskBand) error {
	if math.IsNaN(b.MinEq) || math.IsNaN(b.MaxEq) {
		return fmt.Errorf("%w: NaN bound", ErrInvalidBand)
	}
	if b.MinEq < 0 || b.MaxEq > 1 {
		return fmt.Errorf("%w: [%g,%g] outside [0,1]", ErrInvalidBand, b.MinEq, b.MaxEq)
	}
	if b.MinEq > b.MaxEq {
		return fmt.Errorf("%w: min_eq %g > max_eq %g", ErrInvalidBand, b.MinEq, b.MaxEq)
	}
	return nil
}

// NormalizeProfile 补齐缺省字段并把越界值夹回合法区间。
// 年龄缺省为 35、期限缺省为 5；已给出但越界的值只做夹取，不报错。
func NormalizeProfile(p Profile) Profile {
	out := p

	if out.Age == 0 {
		out.Age = DefaultAge
	}
	out.Age = clampInt(out.Age, MinAge, MaxAge)

	if out.HorizonYears == 0 {
		out.HorizonYears = DefaultHorizon
	}
	out.HorizonYears = clampInt(out.HorizonYears, MinHorizon, MaxHorizon)

	out.Risk, _ = ParseRiskLevel(string(out.Risk))
	return out
}

// NormalizeMarket 处理缺失情绪：nil 视为 neutral、置信度 0.5。
// 未知标签视为 neutral，置信度夹取到 [0,1]。
func NormalizeMarket(m *MarketState) (MarketState, error) {
	if m == nil {
		return MarketState{
			SentimentLabel:      SentimentNeutral,
			SentimentConfidence: DefaultConfidence,
		}, nil
	}
	if math.IsNaN(m.SentimentConfidence) || math.IsInf(m.SentimentConfidence, 0) {
		return MarketState{}, fmt.Errorf("%w: confidence %v", ErrInvalidMarket, m.SentimentConfidence)
	}

	out := *m
	out.SentimentLabel, _ = ParseSentimentLabel(string(m.SentimentLabel))
	out.SentimentConfidence = clamp(m.SentimentConfidence, 0, 1)
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
