package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(close int64) Candle {
	return Candle{Close: decimal.NewFromInt(close)}
}

func TestSeries_WindowEviction(t *testing.T) {
	s := NewSeries(3)
	for i := int64(1); i <= 5; i++ {
		s.Append("BTCUSDT", Timeframe1h, bar(i))
	}
	assert.Equal(t, 3, s.Len("BTCUSDT", Timeframe1h))

	window := s.Last("BTCUSDT", Timeframe1h, 0)
	require.Len(t, window, 3)
	assert.Equal(t, "3", window[0].Close.String())
	assert.Equal(t, "5", window[2].Close.String())
}

func TestSeries_LastIsOldestFirstCopy(t *testing.T) {
	s := NewSeries(10)
	for i := int64(1); i <= 4; i++ {
		s.Append("BTCUSDT", Timeframe1h, bar(i))
	}

	window := s.Last("BTCUSDT", Timeframe1h, 2)
	require.Len(t, window, 2)
	assert.Equal(t, "3", window[0].Close.String())
	assert.Equal(t, "4", window[1].Close.String())

	window[0].Close = decimal.NewFromInt(999)
	fresh := s.Last("BTCUSDT", Timeframe1h, 2)
	assert.Equal(t, "3", fresh[0].Close.String())
}

func TestSeries_LatestClose(t *testing.T) {
	s := NewSeries(10)
	_, ok := s.LatestClose("BTCUSDT", Timeframe1h)
	assert.False(t, ok)

	s.Append("BTCUSDT", Timeframe1h, bar(101))
	s.Append("BTCUSDT", Timeframe4h, bar(999))
	close, ok := s.LatestClose("BTCUSDT", Timeframe1h)
	require.True(t, ok)
	assert.Equal(t, "101", close.String())
}

func TestSeries_KeysAreIndependent(t *testing.T) {
	s := NewSeries(10)
	s.Append("BTCUSDT", Timeframe1h, bar(1))
	s.Append("ETHUSDT", Timeframe1h, bar(2))

	assert.Equal(t, 1, s.Len("BTCUSDT", Timeframe1h))
	assert.Equal(t, 1, s.Len("ETHUSDT", Timeframe1h))
	assert.Equal(t, 0, s.Len("BTCUSDT", Timeframe4h))
}
