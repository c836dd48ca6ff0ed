// Package portfolio implements the position lifecycle: the per-symbol state
// machine, the position store and position sizing.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"quanta/internal/market"
	"quanta/internal/types"
)

// Status of a position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Fill is one (partial) execution of the entry order.
type Fill struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	FilledAt time.Time       `json:"filled_at"`
}

// Position is the record of one trade. Handlers never write to a stored
// position: they clone it, mutate the clone and swap it into the store, so
// any *Position read from the store is immutable.
type Position struct {
	Symbol     string           `json:"symbol"`
	Timeframe  market.Timeframe `json:"timeframe"`
	Strategy   string           `json:"strategy"`
	Side       types.Side       `json:"side"`
	Size       decimal.Decimal  `json:"size"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	StopLoss   decimal.Decimal  `json:"stop_loss"` // zero when none was supplied
	RiskReward float64          `json:"risk_reward"`
	Fills      []Fill           `json:"fills"`
	Status     Status           `json:"status"`
	ExitPrice  decimal.Decimal  `json:"exit_price"`
	PnL        decimal.Decimal  `json:"pnl"`
	OpenedAt   time.Time        `json:"opened_at"`
	ClosedAt   time.Time        `json:"closed_at"`
}

// NewPosition creates an open position. Side and identity are fixed for the
// lifetime of the position.
func NewPosition(symbol string, tf market.Timeframe, strategy string, side types.Side,
	size, entry, stopLoss decimal.Decimal, riskReward float64) *Position {
	return &Position{
		Symbol:     symbol,
		Timeframe:  tf,
		Strategy:   strategy,
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		RiskReward: riskReward,
		Status:     StatusOpen,
		OpenedAt:   time.Now(),
	}
}

// ApplyFill appends a fill and recomputes the entry as the volume-weighted
// average price over all fills.
func (p *Position) ApplyFill(f Fill) {
	p.Fills = append(p.Fills, f)

	notional := decimal.Zero
	quantity := decimal.Zero
	for _, fill := range p.Fills {
		notional = notional.Add(fill.Price.Mul(fill.Quantity))
		quantity = quantity.Add(fill.Quantity)
	}
	if quantity.IsPositive() {
		p.EntryPrice = notional.DivRound(quantity, 8)
	}
}

// TightenStop moves the stop loss, accepting only risk-reducing changes:
// upward for longs, downward for shorts. An unset stop accepts any value.
func (p *Position) TightenStop(stop decimal.Decimal) bool {
	if stop.IsZero() {
		return false
	}
	if p.StopLoss.IsZero() {
		p.StopLoss = stop
		return true
	}
	switch p.Side {
	case types.SideLong:
		if stop.GreaterThan(p.StopLoss) {
			p.StopLoss = stop
			return true
		}
	case types.SideShort:
		if stop.LessThan(p.StopLoss) {
			p.StopLoss = stop
			return true
		}
	}
	return false
}

// Close marks the position closed at the exit price and realizes PnL.
// The position is immutable afterwards.
func (p *Position) Close(exit decimal.Decimal) {
	p.Status = StatusClosed
	p.ExitPrice = exit
	p.ClosedAt = time.Now()
	switch p.Side {
	case types.SideShort:
		p.PnL = p.EntryPrice.Sub(exit).Mul(p.Size)
	default:
		p.PnL = exit.Sub(p.EntryPrice).Mul(p.Size)
	}
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

// clone returns a deep copy, including the fill history.
func (p *Position) clone() *Position {
	cp := *p
	cp.Fills = append([]Fill(nil), p.Fills...)
	return &cp
}
