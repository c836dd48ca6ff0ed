// Package risk provides stop-loss placement, including the trailing finder
// that tightens stops against live price action.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"quanta/internal/types"
)

// ErrNoPriceData is returned when a finder is asked for a stop before any
// candles arrived.
var ErrNoPriceData = errors.New("risk: no price data available")

// StopLossFinder produces a stop-loss price for a trade direction and entry.
type StopLossFinder interface {
	Next(side types.Side, entry decimal.Decimal) (decimal.Decimal, error)
	Reset()
}
