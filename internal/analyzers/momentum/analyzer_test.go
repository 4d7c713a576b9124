package momentum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

func candles(prices ...float64) []trading.Candle {
	out := make([]trading.Candle, len(prices))
	for i, p := range prices {
		out[i] = trading.Candle{OpenTime: time.Unix(int64(i)*3600, 0), Close: p, Volume: 10}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestAnalyzer_Bullish(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	score, err := a.Analyze(context.Background(), "BTCUSDT", candles(ramp(30, 100, 1)...))
	require.NoError(t, err)

	s := trading.Scores{trading.KindSentiment: score}.Sentiment()
	assert.Greater(t, s.Score, 90.0)
	assert.LessOrEqual(t, s.Score, 100.0)
	assert.Equal(t, 100.0, s.Confidence)
}

func TestAnalyzer_Bearish(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	score, err := a.Analyze(context.Background(), "BTCUSDT", candles(ramp(30, 200, -1)...))
	require.NoError(t, err)
	assert.Less(t, score.Score, 0.0)
	assert.GreaterOrEqual(t, score.Score, -100.0)
}

func TestAnalyzer_ShortWindow(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	_, err := a.Analyze(context.Background(), "BTCUSDT", candles(1, 2, 3))
	assert.ErrorIs(t, err, analyzers.ErrNoSignal)
}
