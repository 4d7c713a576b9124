// Package momentum provides a sentiment analyzer derived from price and
// volume momentum, for deployments without an external sentiment feed.
package momentum

import (
	"context"
	"fmt"
	"math"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// Config sets the momentum windows and saturation scales.
type Config struct {
	ShortWindow int     `yaml:"short_window"`
	LongWindow  int     `yaml:"long_window"`
	ShortScale  float64 `yaml:"short_scale"` // percent move mapping to ~76 points
	LongScale   float64 `yaml:"long_scale"`
}

// DefaultConfig returns windows suited to hourly candles.
func DefaultConfig() Config {
	return Config{ShortWindow: 6, LongWindow: 24, ShortScale: 2, LongScale: 5}
}

// Analyzer maps rate of change onto the -100..100 sentiment scale.
type Analyzer struct {
	config Config
}

// NewAnalyzer creates a momentum sentiment analyzer.
func NewAnalyzer(config Config) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze returns sentiment, its momentum, and a directional-agreement
// confidence.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := a.config
	if len(candles) < c.LongWindow+1 {
		return nil, fmt.Errorf("%d candles below minimum %d: %w", len(candles), c.LongWindow+1, analyzers.ErrNoSignal)
	}

	closes := trading.Closes(candles)
	last := closes[len(closes)-1]
	longBase := closes[len(closes)-1-c.LongWindow]
	shortBase := closes[len(closes)-1-c.ShortWindow]
	if longBase <= 0 || shortBase <= 0 {
		return nil, fmt.Errorf("non-positive base price: %w", analyzers.ErrNoSignal)
	}

	longROC := (last - longBase) / longBase * 100
	shortROC := (last - shortBase) / shortBase * 100
	sentiment := 100 * math.Tanh(longROC/c.LongScale)
	shortSentiment := 100 * math.Tanh(shortROC/c.ShortScale)
	momentum := math.Max(-100, math.Min(100, shortSentiment-sentiment))

	// Share of bars in the long window moving with the sentiment sign,
	// weighted by volume.
	var with, total float64
	for i := len(candles) - c.LongWindow; i < len(candles); i++ {
		move := candles[i].Close - candles[i-1].Close
		w := candles[i].Volume
		if w <= 0 {
			w = 1
		}
		total += w
		if (move > 0 && sentiment >= 0) || (move < 0 && sentiment < 0) {
			with += w
		}
	}
	confidence := 50.0
	if total > 0 {
		confidence = with / total * 100
	}

	return &trading.AnalyzerScore{
		Kind:       trading.KindSentiment,
		Symbol:     symbol,
		Timestamp:  candles[len(candles)-1].OpenTime,
		Score:      sentiment,
		Confidence: confidence,
		Details: map[string]any{
			trading.DetailMomentum: momentum,
			"long_roc_pct":         longROC,
			"short_roc_pct":        shortROC,
		},
	}, nil
}
