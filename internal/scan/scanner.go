// Package scan ranks the configured trading universe into per-cycle
// candidates for the orchestration loop.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// KlineSource supplies candle history. The exchange port satisfies it.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error)
}

// Config controls the universe scan.
type Config struct {
	Universe      []string `yaml:"universe"`
	Interval      string   `yaml:"interval"`
	Window        int      `yaml:"window"`
	ChangeBars    int      `yaml:"change_bars"`
	TopN          int      `yaml:"top_n"`
	MinVolume     float64  `yaml:"min_quote_volume"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// DefaultConfig returns the production scan settings.
func DefaultConfig() Config {
	return Config{
		Universe:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT"},
		Interval:      "60",
		Window:        200,
		ChangeBars:    24,
		TopN:          5,
		MinVolume:     0,
		MaxConcurrent: 4,
	}
}

// Validate checks the scan settings.
func (c Config) Validate() error {
	if len(c.Universe) == 0 {
		return errors.New("universe must list at least one symbol")
	}
	if c.Interval == "" {
		return errors.New("interval is required")
	}
	if c.ChangeBars < 1 || c.Window <= c.ChangeBars {
		return fmt.Errorf("window (%d) must exceed change_bars (%d) and change_bars must be >= 1", c.Window, c.ChangeBars)
	}
	if c.TopN < 1 {
		return fmt.Errorf("top_n must be >= 1, got %d", c.TopN)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.MinVolume < 0 {
		return fmt.Errorf("min_quote_volume must be >= 0, got %.2f", c.MinVolume)
	}
	return nil
}

// Candidate is one ranked symbol with the window it was ranked on.
type Candidate struct {
	Symbol      string
	Score       float64
	ChangePct   float64
	QuoteVolume float64
	Candles     []trading.Candle
}

// UniverseScanner ranks the universe by absolute recent change weighted by
// traded quote volume.
type UniverseScanner struct {
	config Config
	source KlineSource
}

// NewUniverseScanner creates a scanner over source.
func NewUniverseScanner(config Config, source KlineSource) *UniverseScanner {
	return &UniverseScanner{config: config, source: source}
}

// Window fetches the analysis window for one symbol.
func (s *UniverseScanner) Window(ctx context.Context, symbol string) ([]trading.Candle, error) {
	candles, err := s.source.GetKlines(ctx, symbol, s.config.Interval, s.config.Window)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	return candles, nil
}

// ScanCandidates returns up to TopN candidates, best first. Symbols whose
// history cannot be fetched are skipped; the scan fails only when every
// symbol failed.
func (s *UniverseScanner) ScanCandidates(ctx context.Context) ([]Candidate, error) {
	symbols := s.config.Universe
	semaphore := make(chan struct{}, s.config.MaxConcurrent)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ranked   []Candidate
		failures int
	)
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				return
			}

			c, err := s.rank(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				log.Warn().Err(err).Str("symbol", sym).Msg("Scan skipped symbol")
				return
			}
			if c.QuoteVolume < s.config.MinVolume {
				log.Debug().Str("symbol", sym).Float64("quote_volume", c.QuoteVolume).Msg("Below volume floor")
				return
			}
			ranked = append(ranked, c)
		}(symbol)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failures == len(symbols) {
		return nil, fmt.Errorf("scan failed for all %d symbols", failures)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if len(ranked) > s.config.TopN {
		ranked = ranked[:s.config.TopN]
	}

	log.Debug().Int("universe", len(symbols)).Int("candidates", len(ranked)).Int("failures", failures).Msg("Universe scanned")
	return ranked, nil
}

func (s *UniverseScanner) rank(ctx context.Context, symbol string) (Candidate, error) {
	candles, err := s.Window(ctx, symbol)
	if err != nil {
		return Candidate{}, err
	}
	if len(candles) <= s.config.ChangeBars {
		return Candidate{}, fmt.Errorf("%s: %d candles, need more than %d", symbol, len(candles), s.config.ChangeBars)
	}

	recent := candles[len(candles)-s.config.ChangeBars-1:]
	base := recent[0].Close
	last := recent[len(recent)-1].Close
	if base <= 0 {
		return Candidate{}, fmt.Errorf("%s: non-positive reference close", symbol)
	}

	volume := 0.0
	for _, c := range recent[1:] {
		volume += c.Close * c.Volume
	}
	change := (last - base) / base * 100
	return Candidate{
		Symbol:      symbol,
		Score:       math.Abs(change) * volume,
		ChangePct:   change,
		QuoteVolume: volume,
		Candles:     candles,
	}, nil
}
