package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quanta/internal/analytics"
	"quanta/internal/datasource"
	"quanta/internal/event"
	"quanta/internal/market"
	"quanta/internal/types"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []event.Event
}

func (d *captureDispatcher) Dispatch(ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *captureDispatcher) byKind(kind event.Kind) []event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []event.Event
	for _, ev := range d.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

type MockDatasource struct {
	mock.Mock
}

func (m *MockDatasource) AccountSize(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockDatasource) FeeAndPrecisions(ctx context.Context, symbol string) (datasource.Fees, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(datasource.Fees), args.Error(1)
}

func testDatasource() *datasource.Static {
	return datasource.NewStatic(decimal.NewFromInt(10_000), datasource.Fees{
		Fee:            decimal.NewFromFloat(0.001),
		MinSize:        decimal.NewFromFloat(0.0001),
		SizePrecision:  4,
		PricePrecision: 2,
	})
}

func newTestManager(t *testing.T) (*Manager, *captureDispatcher) {
	t.Helper()
	dispatcher := &captureDispatcher{}
	m := NewManager(dispatcher, testDatasource(), analytics.NewBasicCalculator(), NewStore(), Options{
		Leverage:        1,
		RiskPerTrade:    0.001,
		ProfitThreshold: 0.05,
	})
	return m, dispatcher
}

func openLong(symbol string) event.OpenLong {
	return event.OpenLong{
		Symbol:     symbol,
		Timeframe:  market.Timeframe1h,
		Strategy:   "trend",
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		RiskReward: 2,
	}
}

func fill(symbol string, price, qty float64) event.OrderFilled {
	return event.OrderFilled{
		Symbol:   symbol,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		FilledAt: time.Now(),
	}
}

func TestManager_EndToEnd(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	assert.Equal(t, StateOpening, m.StateOf("BTCUSDT"))
	require.NotNil(t, m.Store().Active("BTCUSDT"))
	assert.Len(t, dispatcher.byKind(event.KindPositionOpenedLong), 1)

	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))
	assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))

	require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Strategy:  "trend",
		Exit:      decimal.NewFromInt(108),
	}))
	assert.Equal(t, StateClosing, m.StateOf("BTCUSDT"))
	ready := dispatcher.byKind(event.KindReadyToClose)
	require.Len(t, ready, 1)
	assert.True(t, ready[0].(event.ReadyToClose).ExitPrice.Equal(decimal.NewFromInt(108)))

	require.NoError(t, m.HandleEvent(ctx, event.PositionClosed{
		Symbol:    "BTCUSDT",
		ExitPrice: decimal.NewFromInt(108),
	}))
	assert.Equal(t, StateIdle, m.StateOf("BTCUSDT"))
	assert.Nil(t, m.Store().Active("BTCUSDT"))

	closed := m.Store().ClosedByStrategy("trend")
	require.Len(t, closed, 1)
	assert.Equal(t, StatusClosed, closed[0].Status)
	assert.True(t, closed[0].PnL.IsPositive())

	require.NoError(t, m.Close())
	perf := dispatcher.byKind(event.KindPerformanceUpdate)
	require.Len(t, perf, 1)
	assert.Equal(t, "trend", perf[0].(event.PerformanceUpdate).Strategy)
	assert.Equal(t, 1, perf[0].(event.PerformanceUpdate).Performance.TotalTrades)
}

func TestManager_SingleActivePosition(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("ETHUSDT")))
	require.NoError(t, m.HandleEvent(ctx, fill("ETHUSDT", 100, 1)))
	assert.Equal(t, StateOpened, m.StateOf("ETHUSDT"))
	first := m.Store().Active("ETHUSDT")

	// A second open signal while a position is active must be a no-op.
	require.NoError(t, m.HandleEvent(ctx, openLong("ETHUSDT")))
	assert.Equal(t, StateOpened, m.StateOf("ETHUSDT"))
	assert.Same(t, first, m.Store().Active("ETHUSDT"))
	assert.Len(t, dispatcher.byKind(event.KindPositionOpenedLong), 1)
}

func TestManager_ConcurrentOpensOnePosition(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.HandleEvent(ctx, openLong("SOLUSDT"))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpening, m.StateOf("SOLUSDT"))
	assert.Len(t, dispatcher.byKind(event.KindPositionOpenedLong), 1)
}

func TestManager_StrategyIsolation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

	require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Strategy:  "other",
		Exit:      decimal.NewFromInt(110),
	}))
	assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))
}

func TestManager_ProfitGate(t *testing.T) {
	t.Run("long exit below threshold refused", func(t *testing.T) {
		m, dispatcher := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
		require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

		require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1h,
			Strategy:  "trend",
			Exit:      decimal.NewFromFloat(100.02),
		}))
		assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))
		assert.Empty(t, dispatcher.byKind(event.KindReadyToClose))
	})

	t.Run("long exit in loss refused", func(t *testing.T) {
		m, _ := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
		require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

		require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1h,
			Strategy:  "trend",
			Exit:      decimal.NewFromInt(97),
		}))
		assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))
	})

	t.Run("risk exit bypasses the gate on side match", func(t *testing.T) {
		m, dispatcher := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
		require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

		require.NoError(t, m.HandleEvent(ctx, event.RiskExit{
			Symbol: "BTCUSDT",
			Side:   types.SideLong,
			Exit:   decimal.NewFromInt(94),
		}))
		assert.Equal(t, StateClosing, m.StateOf("BTCUSDT"))
		assert.Len(t, dispatcher.byKind(event.KindReadyToClose), 1)
	})

	t.Run("risk exit with wrong side refused", func(t *testing.T) {
		m, _ := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
		require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

		require.NoError(t, m.HandleEvent(ctx, event.RiskExit{
			Symbol: "BTCUSDT",
			Side:   types.SideShort,
			Exit:   decimal.NewFromInt(94),
		}))
		assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))
	})
}

func TestManager_ShortExitGate(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, event.OpenShort{
		Symbol:     "BTCUSDT",
		Timeframe:  market.Timeframe1h,
		Strategy:   "trend",
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(105),
		RiskReward: 2,
	}))
	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

	require.NoError(t, m.HandleEvent(ctx, event.ExitShort{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Strategy:  "trend",
		Exit:      decimal.NewFromInt(92),
	}))
	assert.Equal(t, StateClosing, m.StateOf("BTCUSDT"))
	assert.Len(t, dispatcher.byKind(event.KindReadyToClose), 1)
}

func TestManager_IgnoredEventsAreIdempotent(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	bar := event.MarketUpdate{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Candle:    market.Candle{Close: decimal.NewFromInt(101)},
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, m.HandleEvent(ctx, bar))
	}
	assert.Equal(t, StateIdle, m.StateOf("BTCUSDT"))
	assert.Nil(t, m.Store().Active("BTCUSDT"))
	assert.Empty(t, dispatcher.events)

	// A fill with no active position is likewise dropped.
	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))
	assert.Equal(t, StateIdle, m.StateOf("BTCUSDT"))
}

func TestManager_MarketUpdateEmitsRiskEvaluate(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

	require.NoError(t, m.HandleEvent(ctx, event.MarketUpdate{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Candle:    market.Candle{Close: decimal.NewFromInt(103)},
	}))
	assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))

	reqs := dispatcher.byKind(event.KindRiskEvaluate)
	require.Len(t, reqs, 1)
	req := reqs[0].(event.RiskEvaluateRequest)
	assert.Equal(t, types.SideLong, req.Side)
	assert.Equal(t, "trend", req.Strategy)
	assert.True(t, req.Entry.Equal(decimal.NewFromInt(100)))
}

func TestManager_DatasourceFailureLeavesStateForRetry(t *testing.T) {
	dispatcher := &captureDispatcher{}
	source := new(MockDatasource)
	m := NewManager(dispatcher, source, analytics.NewBasicCalculator(), NewStore(), Options{})
	ctx := context.Background()

	source.On("AccountSize", mock.Anything).Return(decimal.Zero, fmt.Errorf("datasource unreachable")).Once()
	err := m.HandleEvent(ctx, openLong("BTCUSDT"))
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.StateOf("BTCUSDT"))
	assert.Nil(t, m.Store().Active("BTCUSDT"))

	// Redelivery succeeds once the datasource recovers.
	source.On("AccountSize", mock.Anything).Return(decimal.NewFromInt(10_000), nil)
	source.On("FeeAndPrecisions", mock.Anything, "BTCUSDT").Return(datasource.Fees{
		Fee:            decimal.NewFromFloat(0.001),
		MinSize:        decimal.NewFromFloat(0.0001),
		SizePrecision:  4,
		PricePrecision: 2,
	}, nil)
	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	assert.Equal(t, StateOpening, m.StateOf("BTCUSDT"))
}

// blockingCalc parks every Calculate call until released.
type blockingCalc struct {
	release chan struct{}
}

func (c *blockingCalc) Calculate([]analytics.Trade) analytics.PerformanceSnapshot {
	<-c.release
	return analytics.PerformanceSnapshot{}
}

func TestManager_SnapshotsDuringLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, p := range m.Store().ActiveSnapshot() {
				_ = p.EntryPrice.String()
				_ = len(p.Fills)
				_ = p.Status
			}
			for _, p := range m.Store().ClosedSnapshot() {
				_ = p.PnL.String()
			}
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
		require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))
		require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1h,
			Strategy:  "trend",
			Exit:      decimal.NewFromInt(108),
		}))
		require.NoError(t, m.HandleEvent(ctx, event.PositionClosed{
			Symbol:    "BTCUSDT",
			ExitPrice: decimal.NewFromInt(108),
		}))
	}
	close(done)
	wg.Wait()

	require.NoError(t, m.Close())
	assert.Len(t, m.Store().ClosedByStrategy("trend"), 50)
}

func TestManager_StoredPositionImmutableAfterFill(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	before := m.Store().Active("BTCUSDT")

	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))
	after := m.Store().Active("BTCUSDT")

	assert.NotSame(t, before, after)
	assert.Empty(t, before.Fills)
	assert.Len(t, after.Fills, 1)
}

func TestManager_PerformancePublishNeverBlocks(t *testing.T) {
	dispatcher := &captureDispatcher{}
	calc := &blockingCalc{release: make(chan struct{})}
	m := NewManager(dispatcher, testDatasource(), calc, NewStore(), Options{})

	// saturate the analytics workers
	for i := 0; i < 4; i++ {
		m.publishPerformance("trend")
	}

	published := make(chan struct{})
	go func() {
		m.publishPerformance("trend")
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked while analytics workers were saturated")
	}

	close(calc.release)
	require.NoError(t, m.Close())
	assert.Len(t, dispatcher.byKind(event.KindPerformanceUpdate), 4)
}

func TestManager_ProfitThresholdReload(t *testing.T) {
	m, dispatcher := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, openLong("BTCUSDT")))
	require.NoError(t, m.HandleEvent(ctx, fill("BTCUSDT", 100, 1)))

	m.SetProfitThreshold(5)
	require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Strategy:  "trend",
		Exit:      decimal.NewFromInt(103),
	}))
	assert.Equal(t, StateOpened, m.StateOf("BTCUSDT"))
	assert.Empty(t, dispatcher.byKind(event.KindReadyToClose))

	require.NoError(t, m.HandleEvent(ctx, event.ExitLong{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Strategy:  "trend",
		Exit:      decimal.NewFromInt(106),
	}))
	assert.Equal(t, StateClosing, m.StateOf("BTCUSDT"))
}
