package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kindTest Kind = "TEST"

type testEvent struct {
	symbol string
	seq    int
}

func (e testEvent) Kind() Kind          { return kindTest }
func (e testEvent) EventSymbol() string { return e.symbol }

func TestBus_PerSymbolOrdering(t *testing.T) {
	bus := NewBus(4, 64)
	var mu sync.Mutex
	got := make(map[string][]int)
	bus.Subscribe(kindTest, func(_ context.Context, ev Event) error {
		e := ev.(testEvent)
		mu.Lock()
		got[e.symbol] = append(got[e.symbol], e.seq)
		mu.Unlock()
		return nil
	})
	bus.Start(context.Background())

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for seq := 0; seq < 50; seq++ {
		for _, symbol := range symbols {
			require.NoError(t, bus.Dispatch(testEvent{symbol: symbol, seq: seq}))
		}
	}
	bus.Close()

	for _, symbol := range symbols {
		require.Len(t, got[symbol], 50)
		for seq, v := range got[symbol] {
			assert.Equal(t, seq, v, "out-of-order delivery for %s", symbol)
		}
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(2, 8)
	var first, second int
	var mu sync.Mutex
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error {
		mu.Lock()
		first++
		mu.Unlock()
		return nil
	})
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error {
		mu.Lock()
		second++
		mu.Unlock()
		return nil
	})
	bus.Start(context.Background())

	require.NoError(t, bus.Dispatch(testEvent{symbol: "BTCUSDT"}))
	bus.Close()

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBus_DispatchAfterClose(t *testing.T) {
	bus := NewBus(1, 1)
	bus.Start(context.Background())
	bus.Close()
	assert.Error(t, bus.Dispatch(testEvent{symbol: "BTCUSDT"}))
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(1, 8)
	delivered := make(chan int, 8)
	bus.Subscribe(kindTest, func(_ context.Context, ev Event) error {
		e := ev.(testEvent)
		if e.seq == 0 {
			panic("bad event")
		}
		delivered <- e.seq
		return nil
	})
	bus.Start(context.Background())

	require.NoError(t, bus.Dispatch(testEvent{symbol: "BTCUSDT", seq: 0}))
	require.NoError(t, bus.Dispatch(testEvent{symbol: "BTCUSDT", seq: 1}))
	bus.Close()

	select {
	case seq := <-delivered:
		assert.Equal(t, 1, seq)
	case <-time.After(time.Second):
		t.Fatal("event after the panic was never delivered")
	}
}

func TestBus_SubscribeAfterStartRejected(t *testing.T) {
	bus := NewBus(1, 8)
	bus.Start(context.Background())

	got := make(chan struct{}, 1)
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error {
		got <- struct{}{}
		return nil
	})
	require.NoError(t, bus.Dispatch(testEvent{symbol: "BTCUSDT"}))
	bus.Close()

	select {
	case <-got:
		t.Fatal("late subscriber must not receive events")
	default:
	}
}

func TestBus_CloseDuringDispatchDoesNotPanic(t *testing.T) {
	bus := NewBus(2, 1)
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error { return nil })
	bus.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%d", i)
			for {
				if err := bus.Dispatch(testEvent{symbol: symbol}); err != nil {
					return
				}
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	bus.Close()
	wg.Wait()
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(1, 8)
	var calls int
	var mu sync.Mutex
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error {
		return fmt.Errorf("handler failed")
	})
	bus.Subscribe(kindTest, func(_ context.Context, _ Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	bus.Start(context.Background())

	require.NoError(t, bus.Dispatch(testEvent{symbol: "BTCUSDT"}))
	bus.Close()
	assert.Equal(t, 1, calls)
}
