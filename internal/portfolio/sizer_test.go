package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalcPositionSize(t *testing.T) {
	base := SizeInput{
		AccountSize:   decimal.NewFromInt(10_000),
		Entry:         decimal.NewFromInt(100),
		Fee:           decimal.NewFromFloat(0.001),
		MinSize:       decimal.NewFromFloat(0.0001),
		SizePrecision: 4,
		Leverage:      1,
		StopLoss:      decimal.NewFromInt(95),
		RiskPerTrade:  0.001,
	}

	t.Run("loss at stop stays within the risk budget", func(t *testing.T) {
		size := CalcPositionSize(base)
		lossAtStop := base.Entry.Sub(base.StopLoss).Abs().
			Add(base.Entry.Mul(base.Fee).Mul(decimal.NewFromInt(2))).
			Mul(size)
		budget := base.AccountSize.Mul(decimal.NewFromFloat(base.RiskPerTrade))
		assert.True(t, lossAtStop.LessThanOrEqual(budget),
			"loss %s exceeds budget %s", lossAtStop, budget)
	})

	t.Run("no stop falls back to the notional cap", func(t *testing.T) {
		in := base
		in.StopLoss = decimal.Zero
		size := CalcPositionSize(in)
		// 10000 / (100 * 1.001) truncated to 4 places.
		assert.Equal(t, "99.9001", size.String())
	})

	t.Run("leverage scales the cap", func(t *testing.T) {
		in := base
		in.StopLoss = decimal.Zero
		in.Leverage = 5
		assert.Equal(t, "499.5005", CalcPositionSize(in).String())
	})

	t.Run("wide risk budget is capped at the notional limit", func(t *testing.T) {
		in := base
		in.RiskPerTrade = 0.9
		withStop := CalcPositionSize(in)
		in.StopLoss = decimal.Zero
		notionalCap := CalcPositionSize(in)
		assert.True(t, withStop.LessThanOrEqual(notionalCap))
	})

	t.Run("result is truncated to the size precision", func(t *testing.T) {
		size := CalcPositionSize(base)
		assert.True(t, size.Equal(size.Truncate(base.SizePrecision)))
	})

	t.Run("tiny budget clamps up to the instrument minimum", func(t *testing.T) {
		in := base
		in.AccountSize = decimal.NewFromInt(1)
		in.RiskPerTrade = 0.0000001
		assert.True(t, CalcPositionSize(in).Equal(in.MinSize))
	})

	t.Run("degenerate input returns the minimum", func(t *testing.T) {
		in := base
		in.Entry = decimal.Zero
		assert.True(t, CalcPositionSize(in).Equal(in.MinSize))
		in = base
		in.AccountSize = decimal.Zero
		assert.True(t, CalcPositionSize(in).Equal(in.MinSize))
	})
}
