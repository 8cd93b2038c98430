package portfolio

// 生命周期基准（权益, 债券），在情绪与期限调整之前。
var (
	lifecycleGrowth    = [2]float64{1.0, 0.0}
	lifecycleModerate  = [2]float64{0.459, 0.541}
	lifecycleDefensive = [2]float64{0.4202, 0.5798}

	sentimentTiltByMood = map[SentimentLabel]float64{
		SentimentBullish:         0.05,
		SentimentSlightlyBullish: 0.025,
		SentimentNeutral:         0,
		SentimentSlightlyBearish: -0.025,
		SentimentBearish:         -0.05,
	}
)

// Trace 记录一次配置计算的中间量，用于诊断输出。
type Trace struct {
	Profile       Profile     `json:"profile"`
	Market        MarketState `json:"market"`
	BaselineEq    float64     `json:"baseline_eq"`
	BaselineBd    float64     `json:"baseline_bd"`
	Tilt          float64     `json:"tilt"`
	TargetEq      float64     `json:"target_eq"`
	BondShare     float64     `json:"bond_share"`
	EquityClamped bool        `json:"equity_clamped"`
}

// LifecycleMix 按年龄返回基准权益/债券比例。阶梯函数：<45、[45,55)、>=55。
func LifecycleMix(age int) (float64, float64) {
	switch {
	case age < 45:
		return lifecycleGrowth[0], lifecycleGrowth[1]
	case age < 55:
		return lifecycleModerate[0], lifecycleModerate[1]
	default:
		return lifecycleDefensive[0], lifecycleDefensive[1]
	}
}

// SentimentTilt 返回情绪对权益目标的调整量，按置信度线性缩放。
func SentimentTilt(label SentimentLabel, confidence float64) float64 {
	return sentimentTiltByMood[label] * confidence
}

// BondShare 返回剩余部分中分配给债券的比例，其余为现金。
func BondShare(horizonYears int) float64 {
	switch {
	case horizonYears <= 3:
		return 0.65
	case horizonYears <= 7:
		return 0.80
	default:
		return 0.85
	}
}

// ComputeRawAllocation 计算未取整的资产配置。
//
// 权益目标 = 生命周期基准 + 情绪倾斜，随后夹入风险区间；这是唯一约束权益区间的位置。
// 剩余部分按投资期限拆分为债券与现金。
func ComputeRawAllocation(profile Profile, band RiskBand, market *MarketState) (Allocation, Trace, error) {
	if err := ValidateBand(band); err != nil {
		return Allocation{}, Trace{}, err
	}
	mkt, err := NormalizeMarket(market)
	if err != nil {
		return Allocation{}, Trace{}, err
	}
	p := NormalizeProfile(profile)

	baseEq, baseBd := LifecycleMix(p.Age)
	tilt := SentimentTilt(mkt.SentimentLabel, mkt.SentimentConfidence)
	target := baseEq + tilt
	eq := clamp(target, band.MinEq, band.MaxEq)

	share := BondShare(p.HorizonYears)
	residual := 1.0 - eq
	bonds := residual * share
	cash := residual - bonds

	return Allocation{Equities: eq, Bonds: bonds, Cash: cash}, Trace{
		Profile:       p,
		Market:        mkt,
		BaselineEq:    baseEq,
		BaselineBd:    baseBd,
		Tilt:          tilt,
		TargetEq:      target,
		BondShare:     share,
		EquityClamped: eq != target,
	}, nil
}
