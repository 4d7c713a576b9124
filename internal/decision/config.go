package decision

import (
	"fmt"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// Config holds the aggregation thresholds and scoring weights.
type Config struct {
	MandatoryAnalyzers []trading.AnalyzerKind `yaml:"mandatory_analyzers"`

	// Gate and decision
	MinOpportunityScore float64 `yaml:"min_opportunity_score"` // ≥90
	HoldConfidence      float64 `yaml:"hold_confidence"`
	DecisionThreshold   float64 `yaml:"decision_threshold"` // >70
	DominanceRatio      float64 `yaml:"dominance_ratio"`    // winner ≥1.5x loser

	// Trend power: (strength/divisor)^exponent * multiplier
	TrendDivisor    float64 `yaml:"trend_divisor"`
	TrendExponent   float64 `yaml:"trend_exponent"`
	TrendMultiplier float64 `yaml:"trend_multiplier"`

	// RSI extremes: (pivot - rsi)^exponent beyond the trigger
	RSIOversold        float64 `yaml:"rsi_oversold"`
	RSIOverbought      float64 `yaml:"rsi_overbought"`
	RSIOversoldPivot   float64 `yaml:"rsi_oversold_pivot"`
	RSIOverboughtPivot float64 `yaml:"rsi_overbought_pivot"`
	RSIExponent        float64 `yaml:"rsi_exponent"`

	MACDContribution float64 `yaml:"macd_contribution"`

	BollingerMinWidthPct  float64 `yaml:"bollinger_min_width_pct"`
	BollingerContribution float64 `yaml:"bollinger_contribution"`

	LevelTightPct          float64 `yaml:"level_tight_pct"`
	LevelTightContribution float64 `yaml:"level_tight_contribution"`
	LevelNearPct           float64 `yaml:"level_near_pct"`
	LevelNearContribution  float64 `yaml:"level_near_contribution"`

	SentimentThreshold         float64 `yaml:"sentiment_threshold"`
	SentimentExponent          float64 `yaml:"sentiment_exponent"`
	SentimentWeight            float64 `yaml:"sentiment_weight"`
	SentimentMomentumThreshold float64 `yaml:"sentiment_momentum_threshold"`
	SentimentMomentumWeight    float64 `yaml:"sentiment_momentum_weight"`

	ForecastDeltaPct float64 `yaml:"forecast_delta_pct"`
	ForecastWeight   float64 `yaml:"forecast_weight"`

	PatternWeight  float64 `yaml:"pattern_weight"`
	MaxPatterns    int     `yaml:"max_patterns"`
	BullishKeyword string  `yaml:"bullish_keyword"`
	BearishKeyword string  `yaml:"bearish_keyword"`

	ConfluenceMinConfirmations int     `yaml:"confluence_min_confirmations"`
	ConfluenceStep             float64 `yaml:"confluence_step"`
	RiskDampingExponent        float64 `yaml:"risk_damping_exponent"`

	Quality QualityConfig `yaml:"quality"`
}

// QualityConfig weights the composite quality score.
type QualityConfig struct {
	MarketWeight    float64 `yaml:"market_weight"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
	ForecastWeight  float64 `yaml:"forecast_weight"`
	ForecastScale   float64 `yaml:"forecast_scale"`
	PatternWeight   float64 `yaml:"pattern_weight"`
	PatternScale    float64 `yaml:"pattern_scale"`
	AdmissionWeight float64 `yaml:"admission_weight"`
}

// DefaultConfig returns the production aggregation policy.
func DefaultConfig() Config {
	return Config{
		MandatoryAnalyzers: []trading.AnalyzerKind{trading.KindMarket, trading.KindSentiment},

		MinOpportunityScore: 90,
		HoldConfidence:      50,
		DecisionThreshold:   70,
		DominanceRatio:      1.5,

		TrendDivisor:    20,
		TrendExponent:   2,
		TrendMultiplier: 20,

		RSIOversold:        20,
		RSIOverbought:      80,
		RSIOversoldPivot:   30,
		RSIOverboughtPivot: 70,
		RSIExponent:        1.5,

		MACDContribution: 30,

		BollingerMinWidthPct:  4,
		BollingerContribution: 25,

		LevelTightPct:          0.5,
		LevelTightContribution: 50,
		LevelNearPct:           1,
		LevelNearContribution:  30,

		SentimentThreshold:         50,
		SentimentExponent:          1.5,
		SentimentWeight:            0.5,
		SentimentMomentumThreshold: 20,
		SentimentMomentumWeight:    0.8,

		ForecastDeltaPct: 2,
		ForecastWeight:   0.5,

		PatternWeight:  0.3,
		MaxPatterns:    3,
		BullishKeyword: "Bull",
		BearishKeyword: "Bear",

		ConfluenceMinConfirmations: 3,
		ConfluenceStep:             0.2,
		RiskDampingExponent:        1.5,

		Quality: QualityConfig{
			MarketWeight:    0.2,
			SentimentWeight: 0.1,
			ForecastWeight:  0.3,
			ForecastScale:   0.618,
			PatternWeight:   0.2,
			PatternScale:    1.618,
			AdmissionWeight: 0.2,
		},
	}
}

// Validate checks the policy for values that would make decisions undefined.
func (c Config) Validate() error {
	if len(c.MandatoryAnalyzers) == 0 {
		return fmt.Errorf("mandatory_analyzers must name at least one analyzer")
	}
	for _, k := range c.MandatoryAnalyzers {
		switch k {
		case trading.KindMarket, trading.KindSentiment, trading.KindPredictive, trading.KindPattern:
		default:
			return fmt.Errorf("mandatory_analyzers: unknown analyzer kind %q", k)
		}
	}
	if c.MinOpportunityScore < 0 || c.MinOpportunityScore > 100 {
		return fmt.Errorf("min_opportunity_score must be in [0,100], got %.2f", c.MinOpportunityScore)
	}
	if c.DecisionThreshold < 0 || c.DecisionThreshold > 100 {
		return fmt.Errorf("decision_threshold must be in [0,100], got %.2f", c.DecisionThreshold)
	}
	if c.DominanceRatio < 1 {
		return fmt.Errorf("dominance_ratio must be >= 1, got %.2f", c.DominanceRatio)
	}
	if c.TrendDivisor <= 0 {
		return fmt.Errorf("trend_divisor must be positive, got %.2f", c.TrendDivisor)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("rsi_oversold %.2f must be below rsi_overbought %.2f", c.RSIOversold, c.RSIOverbought)
	}
	if c.ConfluenceMinConfirmations < 1 {
		return fmt.Errorf("confluence_min_confirmations must be >= 1, got %d", c.ConfluenceMinConfirmations)
	}
	if c.RiskDampingExponent < 0 {
		return fmt.Errorf("risk_damping_exponent must be >= 0, got %.2f", c.RiskDampingExponent)
	}
	return nil
}

func (c Config) isMandatory(kind trading.AnalyzerKind) bool {
	for _, k := range c.MandatoryAnalyzers {
		if k == kind {
			return true
		}
	}
	return false
}
