package portfolio

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quanta/internal/analytics"
	"quanta/internal/datasource"
	"quanta/internal/event"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/types"
)

// Dispatcher is the outbound side of the event bus.
type Dispatcher interface {
	Dispatch(ev event.Event) error
}

// Archiver persists closed positions. Failures are logged, never fatal to
// the lifecycle.
type Archiver interface {
	SaveClosed(ctx context.Context, p Position) error
}

// Journal records lifecycle transitions for audit.
type Journal interface {
	Record(ctx context.Context, symbol, action, detail string) error
}

type handlerFunc func(ctx context.Context, ev event.Event) (bool, error)

// Options tune the manager.
type Options struct {
	Leverage int
	// RiskPerTrade is the account fraction risked per position.
	RiskPerTrade float64
	// ProfitThreshold is the minimum favorable move, in price units, for a
	// directional exit to be honored.
	ProfitThreshold float64
	Archive         Archiver
	Journal         Journal
}

// Manager owns one lifecycle state machine per symbol and routes inbound
// events to state-specific handlers.
//
// Concurrency: the check-state, run-handler, commit-state sequence runs
// under a per-symbol lock, so concurrent events for one symbol serialize
// while different symbols proceed in parallel. Handlers may block on
// datasource I/O; only that symbol's lane waits.
type Manager struct {
	dispatcher Dispatcher
	source     datasource.Datasource
	calc       analytics.Calculator
	store      *Store
	archive    Archiver
	journal    Journal

	leverage     int
	riskPerTrade float64

	tunablesMu      sync.RWMutex
	profitThreshold decimal.Decimal

	mu     sync.Mutex
	states map[string]State
	locks  map[string]*sync.Mutex

	handlers map[transitionKey]handlerFunc

	// perf runs analytics off the event-processing path.
	perf errgroup.Group
}

// NewManager wires the state machine. dispatcher, source and calc are
// required; archive and journal are optional.
func NewManager(dispatcher Dispatcher, source datasource.Datasource, calc analytics.Calculator, store *Store, opts Options) *Manager {
	if opts.Leverage <= 0 {
		opts.Leverage = 1
	}
	if opts.RiskPerTrade <= 0 {
		opts.RiskPerTrade = 0.001
	}
	if opts.ProfitThreshold <= 0 {
		opts.ProfitThreshold = 0.05
	}
	if store == nil {
		store = NewStore()
	}
	m := &Manager{
		dispatcher:      dispatcher,
		source:          source,
		calc:            calc,
		store:           store,
		archive:         opts.Archive,
		journal:         opts.Journal,
		leverage:        opts.Leverage,
		riskPerTrade:    opts.RiskPerTrade,
		profitThreshold: decimal.NewFromFloat(opts.ProfitThreshold),
		states:          make(map[string]State),
		locks:           make(map[string]*sync.Mutex),
	}
	m.perf.SetLimit(4)
	m.handlers = map[transitionKey]handlerFunc{
		{StateIdle, event.KindOpenLong}:          m.handleOpen,
		{StateIdle, event.KindOpenShort}:         m.handleOpen,
		{StateOpening, event.KindOrderFilled}:    m.handleOrderFilled,
		{StateOpened, event.KindMarketUpdate}:    m.handleMarket,
		{StateOpened, event.KindExitLong}:        m.handleExit,
		{StateOpened, event.KindExitShort}:       m.handleExit,
		{StateOpened, event.KindRiskExit}:        m.handleExit,
		{StateClosing, event.KindPositionClosed}: m.handleClosed,
	}
	return m
}

// Store exposes the position store for read-only consumers.
func (m *Manager) Store() *Store { return m.store }

// HandleEvent runs one event through the symbol's state machine. Unmapped
// (state, event) pairs and refused handlers are benign no-ops; an error
// means an external capability failed and the transition did not commit,
// so a redelivery can retry.
func (m *Manager) HandleEvent(ctx context.Context, ev event.Event) error {
	symbol := ev.EventSymbol()
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	state := m.stateOf(symbol)
	handler, ok := m.handlers[transitionKey{state, ev.Kind()}]
	if !ok {
		logger.Debugf("portfolio: %s in %s ignores %s", symbol, state, ev.Kind())
		return nil
	}
	applied, err := handler(ctx, ev)
	if err != nil {
		return fmt.Errorf("portfolio: %s handling %s in %s: %w", symbol, ev.Kind(), state, err)
	}
	if !applied {
		return nil
	}
	m.setState(symbol, nextState(state, ev.Kind()))
	return nil
}

// StateOf reports the lifecycle state of a symbol.
func (m *Manager) StateOf(symbol string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[symbol]; ok {
		return s
	}
	return StateIdle
}

// SetProfitThreshold swaps the exit profit gate at runtime (config reload).
func (m *Manager) SetProfitThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	m.tunablesMu.Lock()
	m.profitThreshold = decimal.NewFromFloat(threshold)
	m.tunablesMu.Unlock()
}

// PerformanceFor recomputes a strategy's performance synchronously, for the
// admin API.
func (m *Manager) PerformanceFor(strategy string) analytics.PerformanceSnapshot {
	snap := m.calc.Calculate(m.closedTrades(strategy))
	snap.Strategy = strategy
	return snap
}

// Close waits for in-flight analytics work.
func (m *Manager) Close() error {
	return m.perf.Wait()
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[symbol] = lock
	}
	return lock
}

func (m *Manager) stateOf(symbol string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[symbol]; ok {
		return s
	}
	return StateIdle
}

func (m *Manager) setState(symbol string, s State) {
	m.mu.Lock()
	m.states[symbol] = s
	m.mu.Unlock()
}

func (m *Manager) handleOpen(ctx context.Context, ev event.Event) (bool, error) {
	var (
		symbol     string
		tf         market.Timeframe
		strategy   string
		entry      decimal.Decimal
		stop       decimal.Decimal
		riskReward float64
		side       types.Side
	)
	switch x := ev.(type) {
	case event.OpenLong:
		symbol, tf, strategy = x.Symbol, x.Timeframe, x.Strategy
		entry, stop, riskReward = x.Entry, x.StopLoss, x.RiskReward
		side = types.SideLong
	case event.OpenShort:
		symbol, tf, strategy = x.Symbol, x.Timeframe, x.Strategy
		entry, stop, riskReward = x.Entry, x.StopLoss, x.RiskReward
		side = types.SideShort
	default:
		return false, nil
	}

	if m.store.Active(symbol) != nil {
		logger.Debugf("portfolio: %s already has an active position, open refused", symbol)
		return false, nil
	}

	account, err := m.source.AccountSize(ctx)
	if err != nil {
		return false, err
	}
	fees, err := m.source.FeeAndPrecisions(ctx, symbol)
	if err != nil {
		return false, err
	}

	entry = entry.Round(fees.PricePrecision)
	if stop.IsPositive() {
		stop = stop.Round(fees.PricePrecision)
	}
	size := CalcPositionSize(SizeInput{
		AccountSize:   account,
		Entry:         entry,
		Fee:           fees.Fee,
		MinSize:       fees.MinSize,
		SizePrecision: fees.SizePrecision,
		Leverage:      m.leverage,
		StopLoss:      stop,
		RiskPerTrade:  m.riskPerTrade,
	})

	pos := NewPosition(symbol, tf, strategy, side, size, entry, stop, riskReward)
	m.store.SetActive(symbol, pos)
	m.record(ctx, symbol, "open", fmt.Sprintf("side=%s size=%s entry=%s stop=%s strategy=%s",
		side, size, entry, stop, strategy))

	var opened event.Event
	if side == types.SideLong {
		opened = event.PositionOpenedLong{Symbol: symbol, Timeframe: tf, Size: size, Entry: entry, StopLoss: stop}
	} else {
		opened = event.PositionOpenedShort{Symbol: symbol, Timeframe: tf, Size: size, Entry: entry, StopLoss: stop}
	}
	m.emit(opened)
	logger.Infof("portfolio: %s opening %s size=%s entry=%s", symbol, side, size, entry)
	return true, nil
}

func (m *Manager) handleOrderFilled(ctx context.Context, ev event.Event) (bool, error) {
	x, ok := ev.(event.OrderFilled)
	if !ok {
		return false, nil
	}
	pos := m.store.Active(x.Symbol)
	if pos == nil {
		return false, nil
	}
	filled := pos.clone()
	filled.ApplyFill(Fill{Price: x.Price, Quantity: x.Quantity, FilledAt: x.FilledAt})
	m.store.SetActive(x.Symbol, filled)
	m.record(ctx, x.Symbol, "fill", fmt.Sprintf("price=%s qty=%s", x.Price, x.Quantity))
	logger.Infof("portfolio: %s filled at %s, entry now %s", x.Symbol, x.Price, filled.EntryPrice)
	return true, nil
}

func (m *Manager) handleMarket(_ context.Context, ev event.Event) (bool, error) {
	x, ok := ev.(event.MarketUpdate)
	if !ok {
		return false, nil
	}
	pos := m.store.Active(x.Symbol)
	if pos == nil {
		return false, nil
	}
	m.emit(event.RiskEvaluateRequest{
		Symbol:       pos.Symbol,
		Timeframe:    pos.Timeframe,
		Strategy:     pos.Strategy,
		Side:         pos.Side,
		Size:         pos.Size,
		Entry:        pos.EntryPrice,
		StopLoss:     pos.StopLoss,
		RiskReward:   pos.RiskReward,
		RiskPerTrade: m.riskPerTrade,
		Candle:       x.Candle,
	})
	return true, nil
}

func (m *Manager) handleExit(ctx context.Context, ev event.Event) (bool, error) {
	symbol := ev.EventSymbol()
	pos := m.store.Active(symbol)
	if pos == nil {
		return false, nil
	}

	var (
		tf        market.Timeframe
		exitPrice decimal.Decimal
	)
	switch x := ev.(type) {
	case event.ExitLong:
		if x.Strategy != pos.Strategy {
			logger.Debugf("portfolio: %s exit from strategy %s rejected, position owned by %s", symbol, x.Strategy, pos.Strategy)
			return false, nil
		}
		tf, exitPrice = x.Timeframe, x.Exit
	case event.ExitShort:
		if x.Strategy != pos.Strategy {
			logger.Debugf("portfolio: %s exit from strategy %s rejected, position owned by %s", symbol, x.Strategy, pos.Strategy)
			return false, nil
		}
		tf, exitPrice = x.Timeframe, x.Exit
	case event.RiskExit:
		tf, exitPrice = pos.Timeframe, x.Exit
	default:
		return false, nil
	}

	if !m.canClose(pos.Side, pos.EntryPrice, ev) {
		logger.Debugf("portfolio: %s exit at %s not admissible (entry=%s)", symbol, exitPrice, pos.EntryPrice)
		return false, nil
	}

	m.record(ctx, symbol, "exit_requested", fmt.Sprintf("exit=%s", exitPrice))
	m.emit(event.ReadyToClose{Symbol: symbol, Timeframe: tf, ExitPrice: exitPrice})
	logger.Infof("portfolio: %s ready to close at %s", symbol, exitPrice)
	return true, nil
}

func (m *Manager) handleClosed(ctx context.Context, ev event.Event) (bool, error) {
	x, ok := ev.(event.PositionClosed)
	if !ok {
		return false, nil
	}
	pos := m.store.Active(x.Symbol)
	if pos == nil {
		return false, nil
	}

	closed := pos.clone()
	closed.Close(x.ExitPrice)
	m.store.AddClosed(closed)
	m.store.RemoveActive(x.Symbol)
	m.record(ctx, x.Symbol, "closed", fmt.Sprintf("exit=%s pnl=%s", closed.ExitPrice, closed.PnL))
	logger.Infof("portfolio: %s closed at %s, pnl=%s", x.Symbol, closed.ExitPrice, closed.PnL)

	if m.archive != nil {
		if err := m.archive.SaveClosed(ctx, *closed); err != nil {
			logger.Warnf("portfolio: archiving %s failed: %v", x.Symbol, err)
		}
	}

	m.publishPerformance(closed.Strategy)
	return true, nil
}

// publishPerformance recomputes the strategy's performance on a background
// worker. Analytics is CPU-bound and must not stall the event lane, so when
// all workers are busy the update is dropped; the next close publishes a
// fresh one over the full history anyway.
func (m *Manager) publishPerformance(strategy string) {
	trades := m.closedTrades(strategy)
	started := m.perf.TryGo(func() error {
		snap := m.calc.Calculate(trades)
		snap.Strategy = strategy
		m.emit(event.PerformanceUpdate{Strategy: strategy, Performance: snap})
		return nil
	})
	if !started {
		logger.Warnf("portfolio: analytics workers saturated, performance update for %s dropped", strategy)
	}
}

// canClose is the exit admissibility gate: directional exits must be in
// profit by at least the threshold; risk exits pass on side match alone.
func (m *Manager) canClose(side types.Side, entry decimal.Decimal, ev event.Event) bool {
	m.tunablesMu.RLock()
	threshold := m.profitThreshold
	m.tunablesMu.RUnlock()

	switch x := ev.(type) {
	case event.ExitLong:
		return side == types.SideLong &&
			x.Exit.GreaterThan(entry) &&
			x.Exit.Sub(entry).Abs().GreaterThanOrEqual(threshold)
	case event.ExitShort:
		return side == types.SideShort &&
			x.Exit.LessThan(entry) &&
			x.Exit.Sub(entry).Abs().GreaterThanOrEqual(threshold)
	case event.RiskExit:
		return x.Side == side
	}
	return false
}

func (m *Manager) closedTrades(strategy string) []analytics.Trade {
	closed := m.store.ClosedByStrategy(strategy)
	trades := make([]analytics.Trade, 0, len(closed))
	for _, p := range closed {
		trades = append(trades, analytics.Trade{
			Symbol:   p.Symbol,
			Strategy: p.Strategy,
			Side:     p.Side,
			Size:     p.Size,
			Entry:    p.EntryPrice,
			Exit:     p.ExitPrice,
			PnL:      p.PnL,
			ClosedAt: p.ClosedAt,
		})
	}
	return trades
}

func (m *Manager) emit(ev event.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Dispatch(ev); err != nil {
		logger.Warnf("portfolio: dispatch %s failed: %v", ev.Kind(), err)
	}
}

func (m *Manager) record(ctx context.Context, symbol, action, detail string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, symbol, action, detail); err != nil {
		logger.Warnf("portfolio: journal %s/%s failed: %v", symbol, action, err)
	}
}
