package risk

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"quanta/internal/market"
	"quanta/internal/types"
)

// ATRStopLossFinder places the stop an ATR multiple beyond the latest bar:
// below the low for longs, above the high for shorts.
type ATRStopLossFinder struct {
	series     *market.Series
	symbol     string
	timeframe  market.Timeframe
	period     int
	multiplier decimal.Decimal
}

func NewATRStopLossFinder(series *market.Series, symbol string, tf market.Timeframe, period int, multiplier float64) *ATRStopLossFinder {
	if period <= 0 {
		period = 14
	}
	if multiplier <= 0 {
		multiplier = 1.5
	}
	return &ATRStopLossFinder{
		series:     series,
		symbol:     symbol,
		timeframe:  tf,
		period:     period,
		multiplier: decimal.NewFromFloat(multiplier),
	}
}

func (f *ATRStopLossFinder) Next(side types.Side, _ decimal.Decimal) (decimal.Decimal, error) {
	candles := f.series.Last(f.symbol, f.timeframe, f.period*3)
	if len(candles) <= f.period {
		return decimal.Zero, ErrNoPriceData
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}
	atr := talib.Atr(highs, lows, closes, f.period)
	latest := decimal.NewFromFloat(atr[len(atr)-1])
	buffer := latest.Mul(f.multiplier)

	last := candles[len(candles)-1]
	if side == types.SideShort {
		return last.High.Add(buffer), nil
	}
	return last.Low.Sub(buffer), nil
}

// Reset is a no-op: the finder derives everything from the candle series.
func (f *ATRStopLossFinder) Reset() {}
