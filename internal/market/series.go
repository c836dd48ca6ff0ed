package market

import (
	"sync"

	"github.com/shopspring/decimal"
)

type seriesKey struct {
	symbol    string
	timeframe Timeframe
}

// Series keeps a bounded sliding window of candles per symbol and timeframe.
// Safe for concurrent use from multiple event lanes.
type Series struct {
	mu   sync.RWMutex
	max  int
	data map[seriesKey][]Candle
}

// NewSeries creates a candle store keeping at most max bars per key.
func NewSeries(max int) *Series {
	if max <= 0 {
		max = 500
	}
	return &Series{
		max:  max,
		data: make(map[seriesKey][]Candle),
	}
}

// Append adds a bar, evicting the oldest once the window is full.
func (s *Series) Append(symbol string, tf Timeframe, c Candle) {
	key := seriesKey{symbol: symbol, timeframe: tf}
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.data[key], c)
	if len(window) > s.max {
		window = window[len(window)-s.max:]
	}
	s.data[key] = window
}

// Last returns up to n most recent bars, oldest first.
func (s *Series) Last(symbol string, tf Timeframe, n int) []Candle {
	key := seriesKey{symbol: symbol, timeframe: tf}
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := s.data[key]
	if n <= 0 || n > len(window) {
		n = len(window)
	}
	out := make([]Candle, n)
	copy(out, window[len(window)-n:])
	return out
}

// Len reports the number of bars held for the key.
func (s *Series) Len(symbol string, tf Timeframe) int {
	key := seriesKey{symbol: symbol, timeframe: tf}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key])
}

// LatestClose returns the close of the most recent bar for the key.
// The second return is false when no data has been seen.
func (s *Series) LatestClose(symbol string, tf Timeframe) (decimal.Decimal, bool) {
	key := seriesKey{symbol: symbol, timeframe: tf}
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := s.data[key]
	if len(window) == 0 {
		return decimal.Zero, false
	}
	return window[len(window)-1].Close, true
}
