package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/types"
)

// TrailingStopLossFinder decorates a base finder and tightens its stop
// iteratively while the risk/reward ratio against the latest close stays
// above the configured threshold. Adjustment attempts are bounded.
type TrailingStopLossFinder struct {
	base            StopLossFinder
	series          *market.Series
	symbol          string
	timeframe       market.Timeframe
	riskRewardRatio decimal.Decimal
	maxAdjustments  int

	mu          sync.Mutex
	current     map[types.Side]decimal.Decimal
	adjustments map[types.Side]int
}

func NewTrailingStopLossFinder(base StopLossFinder, series *market.Series, symbol string, tf market.Timeframe, riskRewardRatio float64, maxAdjustments int) *TrailingStopLossFinder {
	if riskRewardRatio <= 0 {
		riskRewardRatio = 1.1
	}
	if maxAdjustments <= 0 {
		maxAdjustments = 20
	}
	f := &TrailingStopLossFinder{
		base:            base,
		series:          series,
		symbol:          symbol,
		timeframe:       tf,
		riskRewardRatio: decimal.NewFromFloat(riskRewardRatio),
		maxAdjustments:  maxAdjustments,
	}
	f.resetState()
	return f
}

// Next computes the stop for the direction, starting from the base finder's
// answer and tightening while the ratio trigger fires. A candidate replaces
// the current stop only when it is strictly lower; otherwise iteration ends.
func (f *TrailingStopLossFinder) Next(side types.Side, entry decimal.Decimal) (decimal.Decimal, error) {
	if f.series.Len(f.symbol, f.timeframe) == 0 {
		return decimal.Zero, ErrNoPriceData
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	initial, err := f.base.Next(side, entry)
	if err != nil {
		return decimal.Zero, err
	}
	f.current[side] = initial
	f.adjustments[side] = 0

	for {
		latest, ok := f.series.LatestClose(f.symbol, f.timeframe)
		if !ok {
			return decimal.Zero, ErrNoPriceData
		}
		candidate, adjusted, err := f.adjust(side, entry, latest)
		if err != nil {
			return decimal.Zero, err
		}
		if !adjusted {
			break
		}
		logger.Debugf("risk: %s %s stop %s tightened to %s", f.symbol, side, f.current[side], candidate)
		f.current[side] = candidate
		f.adjustments[side]++
		if f.adjustments[side] >= f.maxAdjustments {
			break
		}
	}
	return f.current[side], nil
}

func (f *TrailingStopLossFinder) adjust(side types.Side, entry, latest decimal.Decimal) (decimal.Decimal, bool, error) {
	current := f.current[side]
	risk := entry.Sub(current).Abs()
	reward := latest.Sub(entry).Abs()

	ratio := decimal.Zero
	if !reward.IsZero() {
		ratio = risk.DivRound(reward, 8)
	}
	if !ratio.GreaterThan(f.riskRewardRatio) {
		return decimal.Zero, false, nil
	}

	next, err := f.base.Next(side, entry)
	if err != nil {
		return decimal.Zero, false, err
	}
	var candidate decimal.Decimal
	if side == types.SideLong {
		candidate = decimal.Max(entry, next)
	} else {
		candidate = decimal.Min(entry, next)
	}

	// Accepted only when strictly below the current stop, for both
	// directions; anything else ends the tightening sequence.
	if candidate.GreaterThanOrEqual(current) {
		return decimal.Zero, false, nil
	}
	return candidate, true, nil
}

// Reset clears both directions and resets the base finder.
func (f *TrailingStopLossFinder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base.Reset()
	f.resetState()
}

func (f *TrailingStopLossFinder) resetState() {
	f.current = map[types.Side]decimal.Decimal{
		types.SideLong:  decimal.Zero,
		types.SideShort: decimal.Zero,
	}
	f.adjustments = map[types.Side]int{
		types.SideLong:  0,
		types.SideShort: 0,
	}
}
