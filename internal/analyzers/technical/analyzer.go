package technical

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// Config controls indicator periods and opportunity weighting.
type Config struct {
	RSIPeriod         int     `yaml:"rsi_period"`
	MACDFast          int     `yaml:"macd_fast"`
	MACDSlow          int     `yaml:"macd_slow"`
	MACDSignal        int     `yaml:"macd_signal"`
	BBPeriod          int     `yaml:"bb_period"`
	BBStdDev          float64 `yaml:"bb_std_dev"`
	TrendWindow       int     `yaml:"trend_window"`
	SwingLookback     int     `yaml:"swing_lookback"`
	MaxLevels         int     `yaml:"max_levels"`
	VolatilityHorizon int     `yaml:"volatility_horizon"` // bars per volatility period
	VolumeWindow      int     `yaml:"volume_window"`
}

// DefaultConfig returns standard indicator periods for hourly candles.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:         14,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		BBPeriod:          20,
		BBStdDev:          2,
		TrendWindow:       20,
		SwingLookback:     3,
		MaxLevels:         3,
		VolatilityHorizon: 24,
		VolumeWindow:      20,
	}
}

// MinCandles is the smallest window the analyzer accepts.
func (c Config) MinCandles() int {
	n := c.MACDSlow + c.MACDSignal - 1
	for _, p := range []int{c.RSIPeriod + 1, c.BBPeriod, c.TrendWindow, c.VolumeWindow + 1} {
		if p > n {
			n = p
		}
	}
	return n
}

// Analyzer is the market analyzer built from classic indicators.
type Analyzer struct {
	config Config
}

// NewAnalyzer creates a technical market analyzer.
func NewAnalyzer(config Config) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze scores the opportunity in the candle window.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candles) < a.config.MinCandles() {
		return nil, fmt.Errorf("%d candles below minimum %d: %w", len(candles), a.config.MinCandles(), analyzers.ErrNoSignal)
	}

	c := a.config
	closes := trading.Closes(candles)
	price := closes[len(closes)-1]
	if price <= 0 {
		return nil, fmt.Errorf("non-positive price %.8f: %w", price, analyzers.ErrNoSignal)
	}

	rsi := RSI(closes, c.RSIPeriod)
	macd := MACD(closes, c.MACDFast, c.MACDSlow, c.MACDSignal)
	bb := Bollinger(closes, c.BBPeriod, c.BBStdDev)

	volatility := StdDev(Returns(closes)) * math.Sqrt(float64(c.VolatilityHorizon))

	slope, r2 := LinearTrend(closes[len(closes)-c.TrendWindow:])
	strength := r2 * 100
	direction := 0.0
	switch {
	case slope > 0:
		direction = 1
	case slope < 0:
		direction = -1
	}

	supports, resistances := swingLevels(candles, c.SwingLookback, c.MaxLevels, price)

	indicators := map[string]float64{trading.IndicatorRSI: rsi}
	if macd.IsValid {
		indicators[trading.IndicatorMACD] = macd.MACD
		indicators[trading.IndicatorMACDSignal] = macd.Signal
		indicators[trading.IndicatorMACDHistogram] = macd.Histogram
	}
	if bb.IsValid {
		indicators[trading.IndicatorBBUpper] = bb.Upper
		indicators[trading.IndicatorBBMiddle] = bb.Middle
		indicators[trading.IndicatorBBLower] = bb.Lower
	}

	opportunity := strength*0.5 + math.Abs(rsi-50)*0.6 + volumeSurge(candles, c.VolumeWindow)
	opportunity = math.Max(0, math.Min(100, opportunity))

	return &trading.AnalyzerScore{
		Kind:       trading.KindMarket,
		Symbol:     symbol,
		Timestamp:  candles[len(candles)-1].OpenTime,
		Score:      opportunity,
		Confidence: math.Max(0, math.Min(100, 50+strength*0.3-volatility*2)),
		Details: map[string]any{
			trading.DetailCurrentPrice:     price,
			trading.DetailVolatility:       volatility,
			trading.DetailTrendStrength:    strength,
			trading.DetailTrendDirection:   direction,
			trading.DetailSupportLevels:    supports,
			trading.DetailResistanceLevels: resistances,
			trading.DetailIndicators:       indicators,
		},
	}, nil
}

// volumeSurge scores the last bar's volume against the trailing average,
// up to 20 points.
func volumeSurge(candles []trading.Candle, window int) float64 {
	if window <= 0 || len(candles) < window+1 {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-window-1 : len(candles)-1] {
		sum += c.Volume
	}
	avg := sum / float64(window)
	if avg <= 0 {
		return 0
	}
	ratio := candles[len(candles)-1].Volume / avg
	return math.Max(0, math.Min(20, (ratio-1)*20))
}

// swingLevels finds swing lows below price and swing highs above it,
// nearest first.
func swingLevels(candles []trading.Candle, lookback, limit int, price float64) (supports, resistances []float64) {
	supports, resistances = []float64{}, []float64{}
	if lookback <= 0 {
		return
	}
	for i := lookback; i < len(candles)-lookback; i++ {
		isLow, isHigh := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
			if candles[j].High > candles[i].High {
				isHigh = false
			}
		}
		if isLow && candles[i].Low < price {
			supports = append(supports, candles[i].Low)
		}
		if isHigh && candles[i].High > price {
			resistances = append(resistances, candles[i].High)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(supports)))
	sort.Float64s(resistances)
	if len(supports) > limit {
		supports = supports[:limit]
	}
	if len(resistances) > limit {
		resistances = resistances[:limit]
	}
	return
}
