package portfolio

import (
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// SizeInput carries everything position sizing depends on. Sizing is a pure
// function of this input and shares no state with the rest of the engine.
type SizeInput struct {
	AccountSize decimal.Decimal
	Entry       decimal.Decimal
	Fee         decimal.Decimal // per-side fee rate, e.g. 0.001
	MinSize     decimal.Decimal
	// SizePrecision is the number of decimal places the instrument accepts
	// for order sizes.
	SizePrecision int32
	Leverage      int
	StopLoss      decimal.Decimal // zero when the signal carries no stop
	RiskPerTrade  float64
}

// CalcPositionSize computes the size such that the potential loss between
// entry and stop, including round-trip fees, stays within
// riskPerTrade x accountSize. Without a stop it falls back to the
// leverage-bounded notional cap. The result is truncated to the size
// precision and clamped to the instrument minimum.
func CalcPositionSize(in SizeInput) decimal.Decimal {
	if in.Entry.IsZero() || !in.AccountSize.IsPositive() {
		return in.MinSize
	}
	leverage := decimal.NewFromInt(int64(max(in.Leverage, 1)))

	// Leveraged notional cap, net of the entry fee.
	capSize := in.AccountSize.Mul(leverage).
		DivRound(in.Entry.Mul(decimal.NewFromInt(1).Add(in.Fee)), 8)

	size := capSize
	if in.StopLoss.IsPositive() {
		riskBudget := in.AccountSize.Mul(decimal.NewFromFloat(in.RiskPerTrade))
		// Per-unit loss: stop distance plus round-trip fees at entry price.
		perUnit := in.Entry.Sub(in.StopLoss).Abs().Add(in.Entry.Mul(in.Fee).Mul(two))
		if perUnit.IsPositive() {
			size = riskBudget.DivRound(perUnit, 8)
		}
		if size.GreaterThan(capSize) {
			size = capSize
		}
	}

	size = size.Truncate(in.SizePrecision)
	if size.LessThan(in.MinSize) {
		size = in.MinSize
	}
	return size
}
