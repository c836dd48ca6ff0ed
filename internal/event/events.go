// Package event defines the domain events and the in-memory bus that
// carries them between the engine's subsystems.
package event

import (
	"time"

	"github.com/shopspring/decimal"

	"quanta/internal/analytics"
	"quanta/internal/market"
	"quanta/internal/types"
)

// Kind tags an event so handlers can be registered per variant without
// reflection-based dispatch.
type Kind string

const (
	KindOpenLong            Kind = "OPEN_LONG"
	KindOpenShort           Kind = "OPEN_SHORT"
	KindOrderFilled         Kind = "ORDER_FILLED"
	KindMarketUpdate        Kind = "MARKET_UPDATE"
	KindExitLong            Kind = "EXIT_LONG"
	KindExitShort           Kind = "EXIT_SHORT"
	KindRiskExit            Kind = "RISK_EXIT"
	KindPositionClosed      Kind = "POSITION_CLOSED"
	KindPositionOpenedLong  Kind = "POSITION_OPENED_LONG"
	KindPositionOpenedShort Kind = "POSITION_OPENED_SHORT"
	KindReadyToClose        Kind = "READY_TO_CLOSE"
	KindRiskEvaluate        Kind = "RISK_EVALUATE"
	KindPerformanceUpdate   Kind = "PERFORMANCE_UPDATE"
)

// Event is an immutable value record routed by symbol.
type Event interface {
	Kind() Kind
	EventSymbol() string
}

// OpenLong asks the portfolio to open a long position.
type OpenLong struct {
	Symbol     string
	Timeframe  market.Timeframe
	Strategy   string
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal // zero when the signal carries no stop
	RiskReward float64
}

func (e OpenLong) Kind() Kind          { return KindOpenLong }
func (e OpenLong) EventSymbol() string { return e.Symbol }

// OpenShort asks the portfolio to open a short position.
type OpenShort struct {
	Symbol     string
	Timeframe  market.Timeframe
	Strategy   string
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	RiskReward float64
}

func (e OpenShort) Kind() Kind          { return KindOpenShort }
func (e OpenShort) EventSymbol() string { return e.Symbol }

// OrderFilled confirms that (part of) the entry order executed.
type OrderFilled struct {
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	FilledAt time.Time
}

func (e OrderFilled) Kind() Kind          { return KindOrderFilled }
func (e OrderFilled) EventSymbol() string { return e.Symbol }

// MarketUpdate delivers the latest closed bar for a symbol.
type MarketUpdate struct {
	Symbol    string
	Timeframe market.Timeframe
	Candle    market.Candle
}

func (e MarketUpdate) Kind() Kind          { return KindMarketUpdate }
func (e MarketUpdate) EventSymbol() string { return e.Symbol }

// ExitLong is a strategy signal to close a long position.
type ExitLong struct {
	Symbol    string
	Timeframe market.Timeframe
	Strategy  string
	Exit      decimal.Decimal
}

func (e ExitLong) Kind() Kind          { return KindExitLong }
func (e ExitLong) EventSymbol() string { return e.Symbol }

// ExitShort is a strategy signal to close a short position.
type ExitShort struct {
	Symbol    string
	Timeframe market.Timeframe
	Strategy  string
	Exit      decimal.Decimal
}

func (e ExitShort) Kind() Kind          { return KindExitShort }
func (e ExitShort) EventSymbol() string { return e.Symbol }

// RiskExit is an unconditional exit from the risk module, e.g. a stop-loss
// hit or setup invalidation. It bypasses the profit gate.
type RiskExit struct {
	Symbol string
	Side   types.Side
	Exit   decimal.Decimal
}

func (e RiskExit) Kind() Kind          { return KindRiskExit }
func (e RiskExit) EventSymbol() string { return e.Symbol }

// PositionClosed confirms that the broker closed the position.
type PositionClosed struct {
	Symbol    string
	ExitPrice decimal.Decimal
}

func (e PositionClosed) Kind() Kind          { return KindPositionClosed }
func (e PositionClosed) EventSymbol() string { return e.Symbol }

// PositionOpenedLong announces a newly created long position to the
// execution module.
type PositionOpenedLong struct {
	Symbol    string
	Timeframe market.Timeframe
	Size      decimal.Decimal
	Entry     decimal.Decimal
	StopLoss  decimal.Decimal
}

func (e PositionOpenedLong) Kind() Kind          { return KindPositionOpenedLong }
func (e PositionOpenedLong) EventSymbol() string { return e.Symbol }

// PositionOpenedShort announces a newly created short position.
type PositionOpenedShort struct {
	Symbol    string
	Timeframe market.Timeframe
	Size      decimal.Decimal
	Entry     decimal.Decimal
	StopLoss  decimal.Decimal
}

func (e PositionOpenedShort) Kind() Kind          { return KindPositionOpenedShort }
func (e PositionOpenedShort) EventSymbol() string { return e.Symbol }

// ReadyToClose tells the execution module to close the position.
type ReadyToClose struct {
	Symbol    string
	Timeframe market.Timeframe
	ExitPrice decimal.Decimal
}

func (e ReadyToClose) Kind() Kind          { return KindReadyToClose }
func (e ReadyToClose) EventSymbol() string { return e.Symbol }

// RiskEvaluateRequest hands the active position's risk parameters and the
// newest bar to the risk module.
type RiskEvaluateRequest struct {
	Symbol       string
	Timeframe    market.Timeframe
	Strategy     string
	Side         types.Side
	Size         decimal.Decimal
	Entry        decimal.Decimal
	StopLoss     decimal.Decimal
	RiskReward   float64
	RiskPerTrade float64
	Candle       market.Candle
}

func (e RiskEvaluateRequest) Kind() Kind          { return KindRiskEvaluate }
func (e RiskEvaluateRequest) EventSymbol() string { return e.Symbol }

// PerformanceUpdate publishes the refreshed performance of a strategy after
// one of its positions closed.
type PerformanceUpdate struct {
	Strategy    string
	Performance analytics.PerformanceSnapshot
}

func (e PerformanceUpdate) Kind() Kind          { return KindPerformanceUpdate }
func (e PerformanceUpdate) EventSymbol() string { return e.Strategy }
