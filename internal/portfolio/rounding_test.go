package portfolio

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundAllocation_CashIsResidual(t *testing.T) {
	got, err := RoundAllocation(Allocation{Equities: 0.1235, Bonds: 0.4995, Cash: 0.3770}, 3)
	require.NoError(t, err)

	assert.Equal(t, 0.124, got.Equities)
	assert.Equal(t, 0.5, got.Bonds)
	// 独立取整会得到 0.377，残差推导得到 0.376。
	assert.Equal(t, 0.376, got.Cash)
	assert.Equal(t, 1.0, RoundTo(got.Sum(), 9))
}

func TestRoundAllocation_HalfUpNotBankers(t *testing.T) {
	got, err := RoundAllocation(Allocation{Equities: 0.0125, Bonds: 0.0135, Cash: 0.974}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.013, got.Equities)
	assert.Equal(t, 0.014, got.Bonds)
	assert.Equal(t, 0.973, got.Cash)
}

func TestRoundAllocation_OtherPrecisions(t *testing.T) {
	got, err := RoundAllocation(Allocation{Equities: 0.6549, Bonds: 0.2761, Cash: 0.069}, 2)
	require.NoError(t, err)
	assert.Equal(t, Allocation{Equities: 0.65, Bonds: 0.28, Cash: 0.07}, got)

	got, err = RoundAllocation(Allocation{Equities: 0.6, Bonds: 0.4, Cash: 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, Allocation{Equities: 1, Bonds: 0, Cash: 0}, got)
}

func TestRoundAllocation_NegativeResidualTakenFromBonds(t *testing.T) {
	got, err := RoundAllocation(Allocation{Equities: 0.6505, Bonds: 0.3495, Cash: 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.651, got.Equities)
	assert.Equal(t, 0.349, got.Bonds)
	assert.Equal(t, 0.0, got.Cash)
}

func TestRoundWithinBand_KeepsEquitiesInsideBand(t *testing.T) {
	band := RiskBand{MinEq: 0.4504, MaxEq: 0.65}
	raw, _, err := ComputeRawAllocation(Profile{Age: 60, Risk: RiskModerate}, band, nil)
	require.NoError(t, err)
	require.Equal(t, 0.4504, raw.Equities)

	plain, err := RoundAllocation(raw, 3)
	require.NoError(t, err)
	assert.False(t, band.Contains(plain.Equities))

	got, err := RoundWithinBand(raw, 3, band)
	require.NoError(t, err)
	assert.Equal(t, 0.451, got.Equities)
	assert.True(t, band.Contains(got.Equities))
	assert.Equal(t, 1.0, RoundTo(got.Sum(), 9))

	upper := RiskBand{MinEq: 0.2, MaxEq: 0.6496}
	got, err = RoundWithinBand(Allocation{Equities: 0.6496, Bonds: 0.2803, Cash: 0.0701}, 3, upper)
	require.NoError(t, err)
	assert.Equal(t, 0.649, got.Equities)
	assert.Equal(t, 0.28, got.Bonds)
	assert.Equal(t, 0.071, got.Cash)
}

func TestRoundWithinBand_MatchesHalfUpWhenAlreadyInside(t *testing.T) {
	a := Allocation{Equities: 0.6549, Bonds: 0.2761, Cash: 0.069}
	want, err := RoundAllocation(a, 2)
	require.NoError(t, err)

	got, err := RoundWithinBand(a, 2, BandFor(RiskAggressive))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRoundWithinBand_RejectsUnrepresentableBand(t *testing.T) {
	_, err := RoundWithinBand(Allocation{Equities: 0.4505, Bonds: 0.44, Cash: 0.1095}, 3, RiskBand{MinEq: 0.4504, MaxEq: 0.4506})
	assert.True(t, errors.Is(err, ErrInvalidBand))

	_, err = RoundWithinBand(Allocation{Equities: 0.5, Bonds: 0.5}, 3, RiskBand{MinEq: 0.8, MaxEq: 0.2})
	assert.True(t, errors.Is(err, ErrInvalidBand))
}

func TestRoundAllocation_RejectsInvalidWeights(t *testing.T) {
	_, err := RoundAllocation(Allocation{Equities: math.NaN()}, 3)
	assert.True(t, errors.Is(err, ErrInvalidAllocation))

	_, err = RoundAllocation(Allocation{Equities: 0.5, Bonds: -0.1, Cash: 0.6}, 3)
	assert.True(t, errors.Is(err, ErrInvalidAllocation))

	_, err = RoundAllocation(Allocation{Equities: 1}, -1)
	assert.True(t, errors.Is(err, ErrInvalidAllocation))
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 0.1235, RoundTo(0.12345, 4))
	assert.Equal(t, -0.1235, RoundTo(-0.12345, 4))
	assert.True(t, math.IsNaN(RoundTo(math.NaN(), 4)))
}
