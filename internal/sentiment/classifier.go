package sentiment

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"finsense/internal/portfolio"
)

// ErrInsufficientData 表示收盘价序列不足以计算指标。
var ErrInsufficientData = errors.New("sentiment: 收盘价数据不足")

const (
	DefaultRSIPeriod = 14
	DefaultEMAPeriod = 20

	rsiOverbought    = 70.0
	rsiOversold      = 30.0
	rsiMildBullish   = 55.0
	rsiMildBearish   = 45.0
	rsiWeight        = 0.7
	slopeWeight      = 0.3
	confidencePlaces = 4
)

// Reading 为一次分类的结果与中间指标。
type Reading struct {
	Label      portfolio.SentimentLabel `json:"label"`
	Confidence float64                  `json:"confidence"`
	RSI        float64                  `json:"rsi"`
	EMASlope   float64                  `json:"ema_slope"`
}

// MarketState 转换为核心使用的市场状态。
func (r Reading) MarketState() portfolio.MarketState {
	return portfolio.MarketState{
		SentimentLabel:      r.Label,
		SentimentConfidence: r.Confidence,
	}
}

// Classifier 基于 RSI 与 EMA 斜率把收盘价序列归类为情绪标签。
type Classifier struct {
	rsiPeriod int
	emaPeriod int
}

// NewClassifier 创建分类器，非正周期使用默认值。
func NewClassifier(rsiPeriod, emaPeriod int) *Classifier {
	if rsiPeriod < 2 {
		rsiPeriod = DefaultRSIPeriod
	}
	if emaPeriod < 2 {
		emaPeriod = DefaultEMAPeriod
	}
	return &Classifier{rsiPeriod: rsiPeriod, emaPeriod: emaPeriod}
}

// MinCloses 返回分类所需的最少收盘价数量。
func (c *Classifier) MinCloses() int {
	return max(c.rsiPeriod, c.emaPeriod) + 1
}

// Classify 计算最新一根的情绪。
func (c *Classifier) Classify(closes []float64) (Reading, error) {
	if len(closes) < c.MinCloses() {
		return Reading{}, fmt.Errorf("%w: 需要 %d 个, 实际 %d 个", ErrInsufficientData, c.MinCloses(), len(closes))
	}
	for i, v := range closes {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return Reading{}, fmt.Errorf("sentiment: 第 %d 个收盘价无效: %v", i, v)
		}
	}

	rsi := 50.0
	if !flat(closes[len(closes)-c.rsiPeriod-1:]) {
		rsi = last(talib.Rsi(closes, c.rsiPeriod))
	}

	ema := talib.Ema(closes, c.emaPeriod)
	slope := safeDivide(ema[len(ema)-1]-ema[len(ema)-2], ema[len(ema)-2])

	label := labelFor(rsi)
	strength := math.Abs(rsi-50) / 50
	confidence := rsiWeight*strength + slopeWeight*agreement(label, slope)
	confidence = math.Max(0, math.Min(1, confidence))

	return Reading{
		Label:      label,
		Confidence: portfolio.RoundTo(confidence, confidencePlaces),
		RSI:        portfolio.RoundTo(rsi, 2),
		EMASlope:   slope,
	}, nil
}

func labelFor(rsi float64) portfolio.SentimentLabel {
	switch {
	case rsi >= rsiOverbought:
		return portfolio.SentimentBullish
	case rsi <= rsiOversold:
		return portfolio.SentimentBearish
	case rsi >= rsiMildBullish:
		return portfolio.SentimentSlightlyBullish
	case rsi <= rsiMildBearish:
		return portfolio.SentimentSlightlyBearish
	default:
		return portfolio.SentimentNeutral
	}
}

// agreement 衡量 EMA 斜率方向与标签方向是否一致：一致为 1，相反为 0，其余 0.5。
func agreement(label portfolio.SentimentLabel, slope float64) float64 {
	var direction float64
	switch label {
	case portfolio.SentimentBullish, portfolio.SentimentSlightlyBullish:
		direction = 1
	case portfolio.SentimentBearish, portfolio.SentimentSlightlyBearish:
		direction = -1
	}
	switch {
	case direction == 0 || slope == 0:
		return 0.5
	case direction*slope > 0:
		return 1
	default:
		return 0
	}
}

func flat(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
