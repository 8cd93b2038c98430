package portfolio

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultPlaces 为配置权重默认保留的小数位数。
const DefaultPlaces = 3

const maxPlaces = 9

// RoundAllocation 以十进制 half-up 方式把权益与债券取整到 places 位，
// 现金取 1 - 权益 - 债券 的残差，保证三者之和在该精度下恰好为 1。
//
// 若调用方给出的权重使残差为负，差额从债券（不足时再从权益）扣除，现金记 0。
func RoundAllocation(a Allocation, places int) (Allocation, error) {
	return roundAllocation(a, places, nil)
}

// RoundWithinBand 与 RoundAllocation 相同，但权益取整结果不得离开 band：
// half-up 落到 min_eq 以下时改为向上取整，超过 max_eq 时改为向下取整。
// band 在该精度下没有可取值时返回 ErrInvalidBand。
func RoundWithinBand(a Allocation, places int, band RiskBand) (Allocation, error) {
	if err := ValidateBand(band); err != nil {
		return Allocation{}, err
	}
	return roundAllocation(a, places, &band)
}

func roundAllocation(a Allocation, places int, band *RiskBand) (Allocation, error) {
	if places < 0 || places > maxPlaces {
		return Allocation{}, fmt.Errorf("%w: places %d outside [0,%d]", ErrInvalidAllocation, places, maxPlaces)
	}
	if err := ValidateAllocation(a); err != nil {
		return Allocation{}, err
	}

	p := int32(places)
	one := decimal.NewFromInt(1)

	rawEq := decimal.NewFromFloat(a.Equities)
	eq := decimal.Min(rawEq.Round(p), one)
	var lo, hi decimal.Decimal
	if band != nil {
		lo, hi = decimal.NewFromFloat(band.MinEq), decimal.NewFromFloat(band.MaxEq)
		switch {
		case eq.LessThan(lo):
			eq = rawEq.RoundCeil(p)
		case eq.GreaterThan(hi):
			eq = rawEq.RoundFloor(p)
		}
	}
	bd := decimal.NewFromFloat(a.Bonds).Round(p)
	cash := one.Sub(eq).Sub(bd).Round(p)

	if cash.IsNegative() {
		bd = bd.Add(cash)
		cash = decimal.Zero
		if bd.IsNegative() {
			eq = eq.Add(bd)
			bd = decimal.Zero
		}
	}

	if band != nil && (eq.LessThan(lo) || eq.GreaterThan(hi)) {
		return Allocation{}, fmt.Errorf("%w: equities %s cannot stay inside [%g,%g] at %d places",
			ErrInvalidBand, eq.String(), band.MinEq, band.MaxEq, places)
	}

	return Allocation{
		Equities: eq.InexactFloat64(),
		Bonds:    bd.InexactFloat64(),
		Cash:     cash.InexactFloat64(),
	}, nil
}

// ValidateAllocation 校验三类权重均为非负有限数。
func ValidateAllocation(a Allocation) error {
	weights := []struct {
		name string
		w    float64
	}{
		{"equities", a.Equities},
		{"bonds", a.Bonds},
		{"cash", a.Cash},
	}
	for _, item := range weights {
		if math.IsNaN(item.w) || math.IsInf(item.w, 0) || item.w < 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidAllocation, item.name, item.w)
		}
	}
	return nil
}

// RoundTo 以十进制 half-up 方式把 x 取整到 places 位。非有限值原样返回。
func RoundTo(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}
