package risk

import (
	"fmt"

	"finsense/internal/portfolio"
)

// AlertType 表示告警类别。
type AlertType string

const (
	AlertVolSpike            AlertType = "vol_spike"
	AlertSentimentFlip       AlertType = "sentiment_flip"
	AlertExposureMismatch    AlertType = "exposure_mismatch"
	AlertEquityConcentration AlertType = "equity_concentration"
)

// Severity 表示告警严重程度。
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert 为单条风险告警。
type Alert struct {
	Type            AlertType `json:"type"`
	Severity        Severity  `json:"severity"`
	Evidence        string    `json:"evidence"`
	SuggestedAction string    `json:"suggested_action"`
}

// Thresholds 为告警阈值。
type Thresholds struct {
	VolHigh             float64
	VolMedium           float64
	EquityConcentration float64
}

// DefaultThresholds 返回默认阈值：波动率 18%/12%，权益集中度 70%。
func DefaultThresholds() Thresholds {
	return Thresholds{
		VolHigh:             0.18,
		VolMedium:           0.12,
		EquityConcentration: 0.70,
	}
}

var suggestedActions = map[AlertType]string{
	AlertVolSpike:            "Consider raising bonds/cash and shortening duration.",
	AlertEquityConcentration: "Trim equities towards the target band.",
	AlertExposureMismatch:    "Rebalance equities back inside your risk band.",
	AlertSentimentFlip:       "Rebalance to target and review stops.",
}

// AlertInput 为告警评估输入。Yesterday 与 Band 可为空。
// 情绪标签按 ParseSentimentLabel 解析，空标签与未知标签一律视为 neutral。
type AlertInput struct {
	Allocation portfolio.Allocation
	KPIs       portfolio.KPIs
	Today      *portfolio.MarketState
	Yesterday  *portfolio.MarketState
	Band       *portfolio.RiskBand
}

// Evaluator 根据 KPI 与情绪历史派生告警，无状态。
type Evaluator struct {
	th Thresholds
}

// NewEvaluator 创建告警评估器。
func NewEvaluator(th Thresholds) *Evaluator {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Evaluator{th: th}
}

// Evaluate 依次执行波动率、权益集中度、区间偏离与情绪反转规则。
// 返回顺序即规则顺序，不按严重程度排序；无告警时返回空切片。
func (e *Evaluator) Evaluate(in AlertInput) []Alert {
	alerts := make([]Alert, 0, 4)

	vol := in.KPIs.ExpVol1Y
	switch {
	case vol >= e.th.VolHigh:
		alerts = append(alerts, newAlert(AlertVolSpike, SeverityHigh,
			fmt.Sprintf("Expected annualised volatility %.2f%% is at or above %.0f%%", vol*100, e.th.VolHigh*100)))
	case vol >= e.th.VolMedium:
		alerts = append(alerts, newAlert(AlertVolSpike, SeverityMedium,
			fmt.Sprintf("Expected annualised volatility %.2f%% is at or above %.0f%%", vol*100, e.th.VolMedium*100)))
	}

	eq := in.Allocation.Equities
	if eq > e.th.EquityConcentration {
		alerts = append(alerts, newAlert(AlertEquityConcentration, SeverityMedium,
			fmt.Sprintf("Equities at %.1f%% of portfolio exceed %.0f%%", eq*100, e.th.EquityConcentration*100)))
	}

	if in.Band != nil {
		b := *in.Band
		if !b.Contains(eq) {
			alerts = append(alerts, newAlert(AlertExposureMismatch, SeverityHigh,
				fmt.Sprintf("Equities at %.1f%% outside risk band %.0f%%-%.0f%%", eq*100, b.MinEq*100, b.MaxEq*100)))
		}
	}

	if in.Today != nil && in.Yesterday != nil {
		prev, _ := portfolio.ParseSentimentLabel(string(in.Yesterday.SentimentLabel))
		curr, _ := portfolio.ParseSentimentLabel(string(in.Today.SentimentLabel))
		if prev != curr {
			alerts = append(alerts, newAlert(AlertSentimentFlip, SeverityMedium,
				fmt.Sprintf("Sentiment %s → %s", prev, curr)))
		}
	}

	return alerts
}

func newAlert(typ AlertType, sev Severity, evidence string) Alert {
	return Alert{
		Type:            typ,
		Severity:        sev,
		Evidence:        evidence,
		SuggestedAction: suggestedActions[typ],
	}
}
