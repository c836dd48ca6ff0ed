// Package analytics scores sequences of closed trades.
//
// Calculation is pure and potentially CPU-heavy for long histories, so
// callers are expected to run it off their event-processing path.
package analytics

import (
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"quanta/internal/types"
)

// Trade is the closed-position view the calculator consumes.
type Trade struct {
	Symbol   string
	Strategy string
	Side     types.Side
	Size     decimal.Decimal
	Entry    decimal.Decimal
	Exit     decimal.Decimal
	PnL      decimal.Decimal
	ClosedAt time.Time
}

// PerformanceSnapshot aggregates a strategy's closed trades.
type PerformanceSnapshot struct {
	Strategy      string          `json:"strategy"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       float64         `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AveragePnL    decimal.Decimal `json:"average_pnl"`
	ProfitFactor  float64         `json:"profit_factor"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	SharpeRatio   float64         `json:"sharpe_ratio"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Calculator turns closed trades into a performance snapshot.
type Calculator interface {
	Calculate(trades []Trade) PerformanceSnapshot
}

// BasicCalculator computes the standard trade statistics.
type BasicCalculator struct{}

func NewBasicCalculator() *BasicCalculator { return &BasicCalculator{} }

func (c *BasicCalculator) Calculate(trades []Trade) PerformanceSnapshot {
	snap := PerformanceSnapshot{
		TotalTrades: len(trades),
		TotalPnL:    decimal.Zero,
		AveragePnL:  decimal.Zero,
		MaxDrawdown: decimal.Zero,
		UpdatedAt:   time.Now(),
	}
	if len(trades) == 0 {
		return snap
	}
	snap.Strategy = trades[0].Strategy

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	equity := decimal.Zero
	peak := decimal.Zero
	returns := make([]float64, 0, len(trades))

	for _, tr := range trades {
		snap.TotalPnL = snap.TotalPnL.Add(tr.PnL)
		if tr.PnL.IsPositive() {
			snap.WinningTrades++
			grossProfit = grossProfit.Add(tr.PnL)
		} else if tr.PnL.IsNegative() {
			snap.LosingTrades++
			grossLoss = grossLoss.Add(tr.PnL.Abs())
		}

		equity = equity.Add(tr.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(snap.MaxDrawdown) {
			snap.MaxDrawdown = dd
		}
		ret, _ := tr.PnL.Float64()
		returns = append(returns, ret)
	}

	snap.WinRate = float64(snap.WinningTrades) / float64(snap.TotalTrades)
	snap.AveragePnL = snap.TotalPnL.DivRound(decimal.NewFromInt(int64(snap.TotalTrades)), 8)
	if grossLoss.IsPositive() {
		pf, _ := grossProfit.DivRound(grossLoss, 8).Float64()
		snap.ProfitFactor = pf
	}
	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		if std > 0 {
			snap.SharpeRatio = mean / std
		}
	}
	return snap
}
