package portfolio

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRawAllocation_ModerateNeutralScenario(t *testing.T) {
	profile := Profile{Age: 30, Risk: RiskModerate, HorizonYears: 5}
	market := &MarketState{SentimentLabel: SentimentNeutral, SentimentConfidence: 0.5}

	alloc, trace, err := ComputeRawAllocation(profile, BandFor(RiskModerate), market)
	require.NoError(t, err)

	assert.Equal(t, 1.0, trace.BaselineEq)
	assert.Equal(t, 0.0, trace.Tilt)
	assert.True(t, trace.EquityClamped)
	assert.Equal(t, 0.80, trace.BondShare)

	assert.InDelta(t, 0.65, alloc.Equities, 1e-12)
	assert.InDelta(t, 0.28, alloc.Bonds, 1e-12)
	assert.InDelta(t, 0.07, alloc.Cash, 1e-12)
	assert.InDelta(t, 1.0, alloc.Sum(), 1e-12)

	rounded, err := RoundAllocation(alloc, DefaultPlaces)
	require.NoError(t, err)
	assert.Equal(t, Allocation{Equities: 0.65, Bonds: 0.28, Cash: 0.07}, rounded)
}

func TestLifecycleMix_StepBoundaries(t *testing.T) {
	cases := []struct {
		age    int
		eq, bd float64
	}{
		{age: 16, eq: 1.0, bd: 0.0},
		{age: 44, eq: 1.0, bd: 0.0},
		{age: 45, eq: 0.459, bd: 0.541},
		{age: 54, eq: 0.459, bd: 0.541},
		{age: 55, eq: 0.4202, bd: 0.5798},
		{age: 100, eq: 0.4202, bd: 0.5798},
	}
	for _, tc := range cases {
		eq, bd := LifecycleMix(tc.age)
		assert.Equal(t, tc.eq, eq, "age %d", tc.age)
		assert.Equal(t, tc.bd, bd, "age %d", tc.age)
	}
}

func TestBondShare_HorizonBuckets(t *testing.T) {
	assert.Equal(t, 0.65, BondShare(1))
	assert.Equal(t, 0.65, BondShare(3))
	assert.Equal(t, 0.80, BondShare(4))
	assert.Equal(t, 0.80, BondShare(7))
	assert.Equal(t, 0.85, BondShare(8))
	assert.Equal(t, 0.85, BondShare(40))
}

func TestSentimentTilt_FiveLevelTable(t *testing.T) {
	assert.InDelta(t, 0.05, SentimentTilt(SentimentBullish, 1), 1e-15)
	assert.InDelta(t, 0.025, SentimentTilt(SentimentSlightlyBullish, 1), 1e-15)
	assert.Equal(t, 0.0, SentimentTilt(SentimentNeutral, 1))
	assert.InDelta(t, -0.0125, SentimentTilt(SentimentSlightlyBearish, 0.5), 1e-15)
	assert.InDelta(t, -0.04, SentimentTilt(SentimentBearish, 0.8), 1e-15)
}

func TestComputeRawAllocation_TiltMovesEquityInsideBand(t *testing.T) {
	// 50 岁基准 0.459，位于 moderate 区间内，情绪倾斜可以直接体现。
	profile := Profile{Age: 50, Risk: RiskModerate, HorizonYears: 10}

	bull, trace, err := ComputeRawAllocation(profile, BandFor(RiskModerate), &MarketState{SentimentLabel: SentimentBullish, SentimentConfidence: 1})
	require.NoError(t, err)
	assert.False(t, trace.EquityClamped)
	assert.InDelta(t, 0.509, bull.Equities, 1e-12)
	assert.InDelta(t, 0.491*0.85, bull.Bonds, 1e-12)

	bear, trace, err := ComputeRawAllocation(profile, BandFor(RiskModerate), &MarketState{SentimentLabel: SentimentBearish, SentimentConfidence: 1})
	require.NoError(t, err)
	assert.True(t, trace.EquityClamped)
	assert.Equal(t, 0.45, bear.Equities)
}

func TestComputeRawAllocation_MonotonicTiltWithConfidence(t *testing.T) {
	profile := Profile{Age: 60, Risk: RiskAggressive, HorizonYears: 6}
	prev := math.Inf(-1)
	for c := 0.0; c <= 1.0; c += 0.05 {
		_, trace, err := ComputeRawAllocation(profile, BandFor(RiskAggressive), &MarketState{SentimentLabel: SentimentBullish, SentimentConfidence: c})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, trace.TargetEq, prev)
		prev = trace.TargetEq
	}
}

func TestComputeRawAllocation_InvariantsAcrossInputs(t *testing.T) {
	labels := []SentimentLabel{SentimentBullish, SentimentSlightlyBullish, SentimentNeutral, SentimentSlightlyBearish, SentimentBearish, "sideways"}
	risks := []RiskLevel{RiskConservative, RiskModerate, RiskAggressive, "yolo"}

	for _, risk := range risks {
		band := BandFor(risk)
		for age := MinAge; age <= MaxAge; age += 7 {
			for horizon := MinHorizon; horizon <= MaxHorizon; horizon += 3 {
				for _, label := range labels {
					for _, conf := range []float64{0, 0.33, 0.5, 1} {
						raw, _, err := ComputeRawAllocation(
							Profile{Age: age, Risk: risk, HorizonYears: horizon},
							band,
							&MarketState{SentimentLabel: label, SentimentConfidence: conf},
						)
						require.NoError(t, err)
						assert.True(t, band.Contains(raw.Equities), "raw equities %v outside %+v", raw.Equities, band)

						rounded, err := RoundAllocation(raw, DefaultPlaces)
						require.NoError(t, err)
						assert.Equal(t, 1.0, RoundTo(rounded.Sum(), 9))
						assert.True(t, band.Contains(rounded.Equities))
						assert.GreaterOrEqual(t, rounded.Bonds, 0.0)
						assert.GreaterOrEqual(t, rounded.Cash, 0.0)
					}
				}
			}
		}
	}
}

func TestComputeRawAllocation_MissingMarketDefaultsNeutral(t *testing.T) {
	alloc, trace, err := ComputeRawAllocation(Profile{}, BandFor(RiskModerate), nil)
	require.NoError(t, err)
	assert.Equal(t, SentimentNeutral, trace.Market.SentimentLabel)
	assert.Equal(t, DefaultConfidence, trace.Market.SentimentConfidence)
	assert.Equal(t, DefaultAge, trace.Profile.Age)
	assert.Equal(t, DefaultHorizon, trace.Profile.HorizonYears)
	assert.InDelta(t, 0.65, alloc.Equities, 1e-12)
}

func TestComputeRawAllocation_RejectsBrokenInputs(t *testing.T) {
	_, _, err := ComputeRawAllocation(Profile{}, RiskBand{MinEq: 0.7, MaxEq: 0.3}, nil)
	assert.True(t, errors.Is(err, ErrInvalidBand))

	_, _, err = ComputeRawAllocation(Profile{}, RiskBand{MinEq: -0.1, MaxEq: 0.3}, nil)
	assert.True(t, errors.Is(err, ErrInvalidBand))

	_, _, err = ComputeRawAllocation(Profile{}, BandFor(RiskModerate), &MarketState{SentimentConfidence: math.NaN()})
	assert.True(t, errors.Is(err, ErrInvalidMarket))
}
