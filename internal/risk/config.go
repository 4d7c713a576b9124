package risk

import (
	"fmt"
)

// LeverageTier maps risk scores strictly below Below to Leverage.
type LeverageTier struct {
	Below    float64 `yaml:"below"`
	Leverage float64 `yaml:"leverage"`
}

// Config holds every sizing threshold and multiplier.
type Config struct {
	// Risk score
	BaseRiskScore              float64 `yaml:"base_risk_score"`
	VolatilityPenalty          float64 `yaml:"volatility_penalty"`
	TrendAlignmentBonus        float64 `yaml:"trend_alignment_bonus"`
	LevelTightBandPct          float64 `yaml:"level_tight_band_pct"`
	LevelTightPenalty          float64 `yaml:"level_tight_penalty"`
	LevelNearBandPct           float64 `yaml:"level_near_band_pct"`
	LevelNearPenalty           float64 `yaml:"level_near_penalty"`
	NegativeSentimentPenalty   float64 `yaml:"negative_sentiment_penalty"`
	PositiveSentimentBonus     float64 `yaml:"positive_sentiment_bonus"`
	SentimentConfidencePenalty float64 `yaml:"sentiment_confidence_penalty"`

	// Leverage
	LeverageTiers []LeverageTier `yaml:"leverage_tiers"`
	FloorLeverage float64        `yaml:"floor_leverage"`

	// Position size
	PerTradeFraction    float64 `yaml:"per_trade_fraction"`
	SizeMultiplier      float64 `yaml:"size_multiplier"`
	MaxPositionFraction float64 `yaml:"max_position_fraction"`

	// Stop-loss and take-profit, all percentages of price
	StopSnapMaxPct           float64 `yaml:"stop_snap_max_pct"`
	StopSnapFactor           float64 `yaml:"stop_snap_factor"`
	TargetSnapMinPct         float64 `yaml:"target_snap_min_pct"`
	TargetSnapFactor         float64 `yaml:"target_snap_factor"`
	BaseStopPct              float64 `yaml:"base_stop_pct"`
	StopVolatilityFactor     float64 `yaml:"stop_volatility_factor"`
	BaseTargetPct            float64 `yaml:"base_target_pct"`
	TargetQualityFactor      float64 `yaml:"target_quality_factor"`
	TrendStopTightening      float64 `yaml:"trend_stop_tightening"`
	TrendTargetExpansion     float64 `yaml:"trend_target_expansion"`
	SentimentStopTightening  float64 `yaml:"sentiment_stop_tightening"`
	SentimentTargetExpansion float64 `yaml:"sentiment_target_expansion"`
	MinStopPct               float64 `yaml:"min_stop_pct"`
	MinTargetPct             float64 `yaml:"min_target_pct"`
	MinRiskReward            float64 `yaml:"min_risk_reward"`

	// Confidence blend
	ConfidenceBase              float64 `yaml:"confidence_base"`
	ConfidenceTrendWeight       float64 `yaml:"confidence_trend_weight"`
	ConfidenceVolatilityPenalty float64 `yaml:"confidence_volatility_penalty"`
	MarketConfidenceWeight      float64 `yaml:"market_confidence_weight"`
}

// DefaultConfig returns the production sizing policy.
func DefaultConfig() Config {
	return Config{
		BaseRiskScore:              50,
		VolatilityPenalty:          2,
		TrendAlignmentBonus:        0.2,
		LevelTightBandPct:          2,
		LevelTightPenalty:          10,
		LevelNearBandPct:           5,
		LevelNearPenalty:           5,
		NegativeSentimentPenalty:   0.5,
		PositiveSentimentBonus:     0.3,
		SentimentConfidencePenalty: 0.2,

		LeverageTiers: []LeverageTier{
			{Below: 10, Leverage: 100},
			{Below: 20, Leverage: 75},
			{Below: 30, Leverage: 50},
			{Below: 40, Leverage: 25},
			{Below: 50, Leverage: 20},
			{Below: 60, Leverage: 15},
			{Below: 70, Leverage: 10},
			{Below: 80, Leverage: 5},
		},
		FloorLeverage: 3,

		PerTradeFraction:    0.02,
		SizeMultiplier:      2,
		MaxPositionFraction: 0.5,

		StopSnapMaxPct:           2,
		StopSnapFactor:           0.95,
		TargetSnapMinPct:         3,
		TargetSnapFactor:         1.05,
		BaseStopPct:              0.5,
		StopVolatilityFactor:     0.1,
		BaseTargetPct:            5,
		TargetQualityFactor:      5,
		TrendStopTightening:      0.3,
		TrendTargetExpansion:     2,
		SentimentStopTightening:  0.2,
		SentimentTargetExpansion: 1.5,
		MinStopPct:               0.5,
		MinTargetPct:             5,
		MinRiskReward:            10,

		ConfidenceBase:              50,
		ConfidenceTrendWeight:       0.3,
		ConfidenceVolatilityPenalty: 2,
		MarketConfidenceWeight:      0.7,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.BaseRiskScore < 0 || c.BaseRiskScore > 100 {
		return fmt.Errorf("base_risk_score must be in [0,100], got %.2f", c.BaseRiskScore)
	}
	if len(c.LeverageTiers) == 0 {
		return fmt.Errorf("leverage_tiers must not be empty")
	}
	prev := LeverageTier{Below: -1, Leverage: c.LeverageTiers[0].Leverage}
	for i, tier := range c.LeverageTiers {
		if tier.Below <= prev.Below {
			return fmt.Errorf("leverage_tiers[%d].below %.2f must exceed %.2f", i, tier.Below, prev.Below)
		}
		if tier.Leverage <= 0 {
			return fmt.Errorf("leverage_tiers[%d].leverage must be positive, got %.2f", i, tier.Leverage)
		}
		if tier.Leverage > prev.Leverage {
			return fmt.Errorf("leverage_tiers[%d].leverage %.2f exceeds previous tier %.2f", i, tier.Leverage, prev.Leverage)
		}
		prev = tier
	}
	if c.FloorLeverage <= 0 || c.FloorLeverage > prev.Leverage {
		return fmt.Errorf("floor_leverage must be in (0, %.2f], got %.2f", prev.Leverage, c.FloorLeverage)
	}
	if c.PerTradeFraction <= 0 || c.PerTradeFraction > 1 {
		return fmt.Errorf("per_trade_fraction must be in (0,1], got %.4f", c.PerTradeFraction)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("max_position_fraction must be in (0,1], got %.4f", c.MaxPositionFraction)
	}
	if c.SizeMultiplier <= 0 {
		return fmt.Errorf("size_multiplier must be positive, got %.2f", c.SizeMultiplier)
	}
	if c.MinStopPct <= 0 {
		return fmt.Errorf("min_stop_pct must be positive, got %.4f", c.MinStopPct)
	}
	if c.MinTargetPct <= 0 {
		return fmt.Errorf("min_target_pct must be positive, got %.4f", c.MinTargetPct)
	}
	if c.MinRiskReward <= 0 {
		return fmt.Errorf("min_risk_reward must be positive, got %.2f", c.MinRiskReward)
	}
	if c.MarketConfidenceWeight < 0 || c.MarketConfidenceWeight > 1 {
		return fmt.Errorf("market_confidence_weight must be in [0,1], got %.2f", c.MarketConfidenceWeight)
	}
	return nil
}
