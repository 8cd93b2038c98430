package kpi

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"finsense/internal/portfolio"
)

const (
	// DefaultPaths 为一年期收益的抽样次数。
	DefaultPaths = 3000
	// DefaultSeed 为未指定种子时使用的随机种子。
	DefaultSeed int64 = 42
	// DrawdownToVol 为最大回撤相对波动率的代理系数。
	DrawdownToVol = -0.8

	kpiPlaces = 4
	// pcgStream 固定 PCG 的流参数，保证相同种子得到相同序列。
	pcgStream = 0x9e3779b97f4a7c15
)

// Assumptions 为年化资本市场假设。现金不贡献收益与风险。
type Assumptions struct {
	EquityMu    float64 `json:"equity_mu"`
	EquitySigma float64 `json:"equity_sigma"`
	BondMu      float64 `json:"bond_mu"`
	BondSigma   float64 `json:"bond_sigma"`
	Rho         float64 `json:"rho"`
}

// DefaultAssumptions 为演示用常数，未经校准。
var DefaultAssumptions = Assumptions{
	EquityMu:    0.0889,
	EquitySigma: 0.1526,
	BondMu:      0.0292,
	BondSigma:   0.0738,
	Rho:         -0.0322,
}

// Config 控制蒙特卡洛参数。
type Config struct {
	Paths       int
	DT          float64
	Assumptions Assumptions
}

// Moments 为组合的解析年化均值与波动率。
type Moments struct {
	Mu    float64 `json:"mu_port"`
	Sigma float64 `json:"sigma_port"`
}

// Estimator 通过一步对数正态抽样估计组合 KPI。
// 不持有随机数状态，每次调用根据种子独立构造生成器，可并发使用。
type Estimator struct {
	cfg Config
}

// NewEstimator 创建 Estimator，未设置的参数使用默认值。
func NewEstimator(cfg Config) *Estimator {
	if cfg.Paths < 2 {
		cfg.Paths = DefaultPaths
	}
	if cfg.DT <= 0 {
		cfg.DT = 1.0
	}
	if cfg.Assumptions == (Assumptions{}) {
		cfg.Assumptions = DefaultAssumptions
	}
	return &Estimator{cfg: cfg}
}

// Paths 返回抽样次数。
func (e *Estimator) Paths() int {
	return e.cfg.Paths
}

// MixMoments 计算股债两资产组合的解析均值与波动率，方差在开方前截断为非负。
func (e *Estimator) MixMoments(a portfolio.Allocation) Moments {
	as := e.cfg.Assumptions
	wEq, wBd := a.Equities, a.Bonds

	mu := wEq*as.EquityMu + wBd*as.BondMu
	variance := math.Pow(wEq*as.EquitySigma, 2) +
		math.Pow(wBd*as.BondSigma, 2) +
		2*as.Rho*wEq*wBd*as.EquitySigma*as.BondSigma

	return Moments{Mu: mu, Sigma: math.Sqrt(math.Max(variance, 0))}
}

// Estimate 返回期望收益、波动率与回撤代理值，均保留 4 位小数。
// 相同的配置与种子得到逐位一致的结果。
func (e *Estimator) Estimate(a portfolio.Allocation, seed int64) (portfolio.KPIs, Moments) {
	m := e.MixMoments(a)
	returns := e.sampleReturns(m, seed)

	mean, std := stat.MeanStdDev(returns, nil)

	return portfolio.KPIs{
		ExpReturn1Y: portfolio.RoundTo(mean, kpiPlaces),
		ExpVol1Y:    portfolio.RoundTo(std, kpiPlaces),
		MaxDrawdown: portfolio.RoundTo(DrawdownToVol*std, kpiPlaces),
	}, m
}

// sampleReturns 抽取 R = exp((mu - sigma^2/2)dt + sigma*sqrt(dt)*z) - 1。
func (e *Estimator) sampleReturns(m Moments, seed int64) []float64 {
	dt := e.cfg.DT
	normal := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewPCG(uint64(seed), pcgStream),
	}

	out := make([]float64, e.cfg.Paths)
	for i := range out {
		out[i] = normal.Rand()
	}

	floats.Scale(m.Sigma*math.Sqrt(dt), out)
	floats.AddConst((m.Mu-0.5*m.Sigma*m.Sigma)*dt, out)
	for i, logR := range out {
		out[i] = math.Expm1(logR)
	}
	return out
}
