package event

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"quanta/internal/logger"
)

// Handler consumes one event. A returned error is logged by the lane; it
// never stops delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

type envelope struct {
	id string
	at time.Time
	ev Event
}

// Bus is an in-memory dispatcher with N lanes. Events are hashed to a lane
// by symbol, so all events for one symbol are handled by the same goroutine
// in arrival order, while different symbols proceed in parallel.
type Bus struct {
	lanes []chan envelope

	mu      sync.RWMutex
	subs    map[Kind][]Handler
	started bool
	closed  bool

	wg sync.WaitGroup
}

// NewBus creates a bus with the given lane count and per-lane buffer.
func NewBus(lanes, buffer int) *Bus {
	if lanes <= 0 {
		lanes = 8
	}
	if buffer <= 0 {
		buffer = 128
	}
	b := &Bus{
		lanes: make([]chan envelope, lanes),
		subs:  make(map[Kind][]Handler),
	}
	for i := range b.lanes {
		b.lanes[i] = make(chan envelope, buffer)
	}
	return b
}

// Subscribe registers a handler for a kind. Wiring happens at startup,
// before Start; later calls are rejected and logged.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		logger.Warnf("bus: subscribe to %s rejected, bus already started", kind)
		return
	}
	b.subs[kind] = append(b.subs[kind], h)
}

// Start launches the lane workers and freezes the subscription map.
// ctx is passed to every handler.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	for i := range b.lanes {
		b.wg.Add(1)
		go b.runLane(ctx, i)
	}
}

// Dispatch routes an event to its symbol's lane, fire-and-forget. The read
// lock is held across the send so Close cannot close the lane between the
// closed check and the send.
func (b *Bus) Dispatch(ev Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	env := envelope{id: uuid.NewString(), at: time.Now(), ev: ev}
	b.lanes[b.laneFor(ev.EventSymbol())] <- env
	return nil
}

// Close stops accepting events and waits for the lanes to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	for _, lane := range b.lanes {
		close(lane)
	}
	b.wg.Wait()
}

func (b *Bus) laneFor(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(b.lanes)))
}

func (b *Bus) runLane(ctx context.Context, idx int) {
	defer b.wg.Done()
	for env := range b.lanes[idx] {
		b.deliver(ctx, env)
	}
}

// deliver invokes every subscriber sequentially, preserving per-symbol
// ordering. A panicking handler is contained so one bad event cannot take
// down the lane. The subscription map is frozen once Start ran, so it is
// read without the lock; taking it here could stall lane draining behind a
// pending Close while a Dispatch sender still holds the read lock.
func (b *Bus) deliver(ctx context.Context, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("bus: panic handling %s (id=%s): %v", env.ev.Kind(), env.id, r)
			debug.PrintStack()
		}
	}()

	handlers := b.subs[env.ev.Kind()]
	if len(handlers) == 0 {
		logger.Debugf("bus: no subscriber for %s", env.ev.Kind())
		return
	}

	start := time.Now()
	for _, h := range handlers {
		if err := h(ctx, env.ev); err != nil {
			logger.Errorf("bus: handler for %s failed (id=%s): %v", env.ev.Kind(), env.id, err)
		}
	}
	if dur := time.Since(start); dur > 100*time.Millisecond {
		logger.Warnf("bus: slow event %s took %v", env.ev.Kind(), dur)
	}
}
