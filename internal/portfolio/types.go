package portfolio

import (
	"encoding/json"
	"strings"
	"time"
)

// RiskLevel 表示用户风险偏好。
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// ParseRiskLevel 解析风险标签，未知取值回落到 moderate。
// 第二个返回值表示输入是否为可识别的标签。
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative":
		return RiskConservative, true
	case "moderate", "balanced":
		return RiskModerate, true
	case "aggressive":
		return RiskAggressive, true
	default:
		return RiskModerate, false
	}
}

// SentimentLabel 表示市场情绪标签。
type SentimentLabel string

const (
	SentimentBullish         SentimentLabel = "bullish"
	SentimentSlightlyBullish SentimentLabel = "slightly_bullish"
	SentimentNeutral         SentimentLabel = "neutral"
	SentimentSlightlyBearish SentimentLabel = "slightly_bearish"
	SentimentBearish         SentimentLabel = "bearish"
)

// ParseSentimentLabel 解析情绪标签，未知取值视为 neutral。
func ParseSentimentLabel(s string) (SentimentLabel, bool) {
	label := SentimentLabel(strings.ToLower(strings.TrimSpace(s)))
	switch label {
	case SentimentBullish, SentimentSlightlyBullish, SentimentNeutral, SentimentSlightlyBearish, SentimentBearish:
		return label, true
	default:
		return SentimentNeutral, false
	}
}

// Profile 描述单次请求的用户画像。零值字段视为缺省。
type Profile struct {
	Age          int       `json:"age"`
	Risk         RiskLevel `json:"risk"`
	HorizonYears int       `json:"horizon_years"`
}

// RiskBand 为某一风险等级允许的权益仓位区间。
type RiskBand struct {
	MinEq float64 `json:"min_eq"`
	MaxEq float64 `json:"max_eq"`
}

// Contains 判断权益权重是否落在区间内（含边界）。
func (b RiskBand) Contains(eq float64) bool {
	return eq >= b.MinEq && eq <= b.MaxEq
}

// MarketState 为请求附带的市场情绪快照。
type MarketState struct {
	SentimentLabel      SentimentLabel `json:"sentiment_label"`
	SentimentConfidence float64        `json:"sentiment_confidence"`
	AsOf                time.Time      `json:"asof"`
}

// UnmarshalJSON 解码市场快照；缺失或为 null 的置信度取 DefaultConfidence。
func (m *MarketState) UnmarshalJSON(data []byte) error {
	var raw struct {
		SentimentLabel      SentimentLabel `json:"sentiment_label"`
		SentimentConfidence *float64       `json:"sentiment_confidence"`
		AsOf                time.Time      `json:"asof"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MarketState{
		SentimentLabel:      raw.SentimentLabel,
		SentimentConfidence: DefaultConfidence,
		AsOf:                raw.AsOf,
	}
	if raw.SentimentConfidence != nil {
		m.SentimentConfidence = *raw.SentimentConfidence
	}
	return nil
}

// Allocation 为权益/债券/现金三类资产的权重。
type Allocation struct {
	Equities float64 `json:"equities"`
	Bonds    float64 `json:"bonds"`
	Cash     float64 `json:"cash"`
}

// Sum 返回三类权重之和。
func (a Allocation) Sum() float64 {
	return a.Equities + a.Bonds + a.Cash
}

// KPIs 为组合的一年期风险收益指标。
type KPIs struct {
	ExpReturn1Y float64 `json:"exp_return_1y"`
	ExpVol1Y    float64 `json:"exp_vol_1y"`
	MaxDrawdown float64 `json:"max_drawdown"`
}
