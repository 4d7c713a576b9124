package gates

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// Check names, in evaluation order.
const (
	CheckWinProbability             = "win_probability"
	CheckRiskReward                 = "risk_reward"
	CheckExpectedValue              = "expected_value"
	CheckHighVolatilityWinProb      = "high_volatility_win_probability"
	CheckVolatilityCeiling          = "volatility_ceiling"
	CheckExtremeSentimentRiskReward = "extreme_sentiment_risk_reward"
	CheckSentimentExtremity         = "sentiment_extremity"
)

// AdmissionConfig contains the hard thresholds of the admission gate.
type AdmissionConfig struct {
	// Hard floors
	MinWinProbability float64 `yaml:"min_win_probability"` // ≥80
	MinRiskReward     float64 `yaml:"min_risk_reward"`     // ≥10:1
	MinExpectedValue  float64 `yaml:"min_expected_value"`  // ≥1 quote unit

	// Conditional ceilings
	VolatilityCeiling               float64 `yaml:"volatility_ceiling"`                  // percent
	HighVolatilityMinWinProbability float64 `yaml:"high_volatility_min_win_probability"` // ≥90
	SentimentExtremity              float64 `yaml:"sentiment_extremity"`                 // |s| > 80
	ExtremeSentimentMinRiskReward   float64 `yaml:"extreme_sentiment_min_risk_reward"`   // ≥15:1

	// Win probability adjustments
	TrendAlignmentBonus       float64 `yaml:"trend_alignment_bonus"`
	SentimentAlignmentDivisor float64 `yaml:"sentiment_alignment_divisor"`
	RiskFactorDivisor         float64 `yaml:"risk_factor_divisor"`
	LevelBonus                float64 `yaml:"level_bonus"`
}

// DefaultAdmissionConfig returns the production admission thresholds.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MinWinProbability:               80,
		MinRiskReward:                   10,
		MinExpectedValue:                1,
		VolatilityCeiling:               10,
		HighVolatilityMinWinProbability: 90,
		SentimentExtremity:              80,
		ExtremeSentimentMinRiskReward:   15,
		TrendAlignmentBonus:             10,
		SentimentAlignmentDivisor:       10,
		RiskFactorDivisor:               10,
		LevelBonus:                      5,
	}
}

// Validate checks threshold ranges.
func (c AdmissionConfig) Validate() error {
	if c.MinWinProbability < 0 || c.MinWinProbability > 100 {
		return fmt.Errorf("min_win_probability must be in [0,100], got %.2f", c.MinWinProbability)
	}
	if c.HighVolatilityMinWinProbability < c.MinWinProbability || c.HighVolatilityMinWinProbability > 100 {
		return fmt.Errorf("high_volatility_min_win_probability must be in [%.2f,100], got %.2f",
			c.MinWinProbability, c.HighVolatilityMinWinProbability)
	}
	if c.MinRiskReward <= 0 {
		return fmt.Errorf("min_risk_reward must be positive, got %.2f", c.MinRiskReward)
	}
	if c.ExtremeSentimentMinRiskReward < c.MinRiskReward {
		return fmt.Errorf("extreme_sentiment_min_risk_reward %.2f must be >= min_risk_reward %.2f",
			c.ExtremeSentimentMinRiskReward, c.MinRiskReward)
	}
	if c.SentimentAlignmentDivisor <= 0 || c.RiskFactorDivisor <= 0 {
		return fmt.Errorf("sentiment_alignment_divisor and risk_factor_divisor must be positive, got %.2f and %.2f",
			c.SentimentAlignmentDivisor, c.RiskFactorDivisor)
	}
	return nil
}

// AdmissionGate approves or rejects sized entries. It holds no mutable
// state and performs no I/O.
type AdmissionGate struct {
	config AdmissionConfig
	now    func() time.Time
}

// NewAdmissionGate creates a gate with the given thresholds.
func NewAdmissionGate(config AdmissionConfig) *AdmissionGate {
	return &AdmissionGate{config: config, now: time.Now}
}

// Config returns the gate thresholds.
func (g *AdmissionGate) Config() AdmissionConfig {
	return g.config
}

// WinProbability estimates the chance the trade reaches its target.
func (g *AdmissionGate) WinProbability(direction trading.Direction, sizing *trading.RiskAssessment, scores trading.Scores) float64 {
	c := g.config
	m := scores.Market()
	s := scores.Sentiment()

	wp := m.Opportunity
	switch {
	case m.TrendDirection == 0:
	case m.TrendDirection == direction.Sign():
		wp += c.TrendAlignmentBonus
	default:
		wp -= c.TrendAlignmentBonus
	}
	wp += s.Score * direction.Sign() / c.SentimentAlignmentDivisor
	if sizing != nil {
		wp += (100 - sizing.RiskScore) / c.RiskFactorDivisor
	}
	if len(m.SupportLevels) > 0 || len(m.ResistanceLevels) > 0 {
		wp += c.LevelBonus
	}
	return math.Max(0, math.Min(100, wp))
}

// Evaluate runs the sequential admission checks. The first failing check
// rejects the trade and later checks are not evaluated.
func (g *AdmissionGate) Evaluate(symbol string, direction trading.Direction, sizing *trading.RiskAssessment, scores trading.Scores) *trading.AdmissionAssessment {
	c := g.config
	m := scores.Market()
	s := scores.Sentiment()

	out := &trading.AdmissionAssessment{
		Symbol:     symbol,
		Timestamp:  g.now(),
		Direction:  direction,
		EntryPrice: m.CurrentPrice,
	}
	if sizing == nil {
		out.Trail.Add("REJECTED: no sizing available")
		return out
	}

	out.PositionSize = sizing.PositionSize
	out.Leverage = sizing.Leverage
	sign := direction.Sign()
	out.StopLossPrice = m.CurrentPrice * (1 - sign*sizing.StopLossPct/100)
	out.TakeProfitPrice = m.CurrentPrice * (1 + sign*sizing.TakeProfitPct/100)
	out.RiskAmount = sizing.PositionSize * sizing.StopLossPct / 100
	out.RewardAmount = sizing.PositionSize * sizing.TakeProfitPct / 100
	if out.RiskAmount > 0 {
		out.RiskRewardRatio = out.RewardAmount / out.RiskAmount
	} else {
		out.RiskRewardRatio = sizing.RiskRewardRatio
	}

	out.WinProbability = g.WinProbability(direction, sizing, scores)
	p := out.WinProbability / 100
	out.ExpectedValue = p*out.RewardAmount - (1-p)*out.RiskAmount
	out.Trail.Add("%s %s entry %.6f stop %.6f target %.6f size %.2f",
		symbol, direction, out.EntryPrice, out.StopLossPrice, out.TakeProfitPrice, out.PositionSize)

	checks := []trading.GateCheck{
		floorCheck(CheckWinProbability, out.WinProbability, c.MinWinProbability, "min_win_probability"),
		floorCheck(CheckRiskReward, out.RiskRewardRatio, c.MinRiskReward, "min_risk_reward"),
		floorCheck(CheckExpectedValue, out.ExpectedValue, c.MinExpectedValue, "min_expected_value"),
	}
	if m.Volatility > c.VolatilityCeiling {
		check := floorCheck(CheckHighVolatilityWinProb, out.WinProbability,
			c.HighVolatilityMinWinProbability, "high_volatility_min_win_probability")
		check.Description += fmt.Sprintf(" (volatility %.2f%% > volatility_ceiling %.2f%%)", m.Volatility, c.VolatilityCeiling)
		checks = append(checks, check)
	} else {
		checks = append(checks, trading.GateCheck{
			Name:        CheckVolatilityCeiling,
			Passed:      true,
			Value:       m.Volatility,
			Threshold:   c.VolatilityCeiling,
			Description: fmt.Sprintf("volatility %.2f%% <= volatility_ceiling %.2f%%", m.Volatility, c.VolatilityCeiling),
		})
	}
	if math.Abs(s.Score) > c.SentimentExtremity {
		check := floorCheck(CheckExtremeSentimentRiskReward, out.RiskRewardRatio,
			c.ExtremeSentimentMinRiskReward, "extreme_sentiment_min_risk_reward")
		check.Description += fmt.Sprintf(" (|sentiment| %.1f > sentiment_extremity %.1f)", math.Abs(s.Score), c.SentimentExtremity)
		checks = append(checks, check)
	} else {
		checks = append(checks, trading.GateCheck{
			Name:        CheckSentimentExtremity,
			Passed:      true,
			Value:       math.Abs(s.Score),
			Threshold:   c.SentimentExtremity,
			Description: fmt.Sprintf("|sentiment| %.1f <= sentiment_extremity %.1f", math.Abs(s.Score), c.SentimentExtremity),
		})
	}

	for _, check := range checks {
		out.Checks = append(out.Checks, check)
		if !check.Passed {
			out.Trail.Add("REJECTED: %s", check.Description)
			return out
		}
		out.Trail.Add("passed: %s", check.Description)
	}

	out.Approved = true
	out.Trail.Add("APPROVED: win probability %.1f%% ev %.2f rr %.1f", out.WinProbability, out.ExpectedValue, out.RiskRewardRatio)
	return out
}

func floorCheck(name string, value, threshold float64, thresholdName string) trading.GateCheck {
	passed := value >= threshold
	op := ">="
	if !passed {
		op = "<"
	}
	return trading.GateCheck{
		Name:        name,
		Passed:      passed,
		Value:       value,
		Threshold:   threshold,
		Description: fmt.Sprintf("%s %.2f %s %s %.2f", name, value, op, thresholdName, threshold),
	}
}
