package technical

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

func series(n int, f func(i int) float64) []trading.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]trading.Candle, n)
	for i := range out {
		p := f(i)
		out[i] = trading.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     p,
			High:     p * 1.002,
			Low:      p * 0.998,
			Close:    p,
			Volume:   1000,
		}
	}
	return out
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	assert.Equal(t, 100.0, RSI(rising, 14))

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	assert.Equal(t, 50.0, RSI(flat, 14))
	assert.Equal(t, 50.0, RSI(rising[:5], 14), "insufficient data is neutral")
}

func TestMACD_TrendSign(t *testing.T) {
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 * math.Pow(1.01, float64(i))
	}
	res := MACD(up, 12, 26, 9)
	require.True(t, res.IsValid)
	assert.Greater(t, res.MACD, 0.0)

	assert.False(t, MACD(up[:20], 12, 26, 9).IsValid)
}

func TestBollinger(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	bb := Bollinger(prices, 5, 2)
	require.True(t, bb.IsValid)
	assert.InDelta(t, 3.0, bb.Middle, 1e-9)
	assert.InDelta(t, 3+2*math.Sqrt(2), bb.Upper, 1e-9)
	assert.InDelta(t, 3-2*math.Sqrt(2), bb.Lower, 1e-9)
}

func TestLinearTrend(t *testing.T) {
	slope, r2 := LinearTrend([]float64{1, 2, 3, 4, 5})
	assert.InDelta(t, 1.0, slope, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)
}

func TestAnalyzer_Uptrend(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	candles := series(60, func(i int) float64 { return 100 + float64(i)*0.5 })

	score, err := a.Analyze(context.Background(), "BTCUSDT", candles)
	require.NoError(t, err)

	m := trading.Scores{trading.KindMarket: score}.Market()
	assert.Equal(t, 1.0, m.TrendDirection)
	assert.Greater(t, m.TrendStrength, 95.0)
	assert.InDelta(t, 129.5, m.CurrentPrice, 1e-9)
	assert.True(t, m.HasIndicator(trading.IndicatorMACD))
	assert.True(t, m.HasIndicator(trading.IndicatorBBUpper))
	assert.GreaterOrEqual(t, score.Score, 0.0)
	assert.LessOrEqual(t, score.Score, 100.0)
}

func TestAnalyzer_SwingLevels(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	candles := series(60, func(i int) float64 {
		return 100 + 5*math.Sin(float64(i)/4)
	})

	score, err := a.Analyze(context.Background(), "ETHUSDT", candles)
	require.NoError(t, err)
	m := trading.Scores{trading.KindMarket: score}.Market()
	for _, s := range m.SupportLevels {
		assert.Less(t, s, m.CurrentPrice)
	}
	for _, r := range m.ResistanceLevels {
		assert.Greater(t, r, m.CurrentPrice)
	}
	assert.NotEmpty(t, append(m.SupportLevels, m.ResistanceLevels...))
}

func TestAnalyzer_ShortWindowIsNoSignal(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	_, err := a.Analyze(context.Background(), "BTCUSDT", series(10, func(int) float64 { return 100 }))
	assert.ErrorIs(t, err, analyzers.ErrNoSignal)
}
