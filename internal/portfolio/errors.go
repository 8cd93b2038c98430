package portfolio

import "errors"

var (
	// ErrInvalidBand 表示风险区间不合法（越界或 min_eq > max_eq）。
	ErrInvalidBand = errors.New("portfolio: invalid risk band")
	// ErrInvalidAllocation 表示权重含负数、非有限值或无法归一。
	ErrInvalidAllocation = errors.New("portfolio: invalid allocation")
	// ErrInvalidMarket 表示情绪置信度不是有限数值。
	ErrInvalidMarket = errors.New("portfolio: invalid market state")
)
