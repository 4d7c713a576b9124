package risk

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// ErrInsufficientData is returned when market or sentiment input is absent.
var ErrInsufficientData = errors.New("insufficient data for risk assessment")

const (
	sourceSupport    = "support"
	sourceResistance = "resistance"
	sourceFormula    = "formula"
)

// CapitalSource reports capital not committed to live positions.
type CapitalSource interface {
	Available() float64
}

// Engine sizes trades from analyzer outputs.
type Engine struct {
	config  Config
	capital CapitalSource
	now     func() time.Time
}

// NewEngine creates a sizing engine reading available capital from capital.
func NewEngine(config Config, capital CapitalSource) *Engine {
	return &Engine{config: config, capital: capital, now: time.Now}
}

// Leverage returns the tier leverage for a risk score. Scores at or above
// the last tier boundary get the floor leverage.
func (e *Engine) Leverage(riskScore float64) float64 {
	for _, tier := range e.config.LeverageTiers {
		if riskScore < tier.Below {
			return tier.Leverage
		}
	}
	return e.config.FloorLeverage
}

// Score computes the clamped risk score. Higher is riskier.
func (e *Engine) Score(scores trading.Scores) float64 {
	c := e.config
	m := scores.Market()
	s := scores.Sentiment()

	r := c.BaseRiskScore
	r += m.Volatility * c.VolatilityPenalty
	r -= m.TrendStrength * c.TrendAlignmentBonus * m.TrendDirection

	if m.CurrentPrice > 0 {
		nearest := math.Inf(1)
		for _, lvl := range append(append([]float64{}, m.SupportLevels...), m.ResistanceLevels...) {
			if d := math.Abs(m.CurrentPrice-lvl) / m.CurrentPrice * 100; d < nearest {
				nearest = d
			}
		}
		switch {
		case nearest < c.LevelTightBandPct:
			r += c.LevelTightPenalty
		case nearest < c.LevelNearBandPct:
			r += c.LevelNearPenalty
		}
	}

	r += polarity(s.Score, c.NegativeSentimentPenalty, c.PositiveSentimentBonus)
	r += polarity(s.Momentum, c.NegativeSentimentPenalty, c.PositiveSentimentBonus)
	r += (100 - s.Confidence) * c.SentimentConfidencePenalty

	return clamp(r, 0, 100)
}

// Assess produces the sizing for symbol at currentPrice.
func (e *Engine) Assess(symbol string, scores trading.Scores, currentPrice float64) (*trading.RiskAssessment, error) {
	if !scores.Has(trading.KindMarket) || !scores.Has(trading.KindSentiment) {
		return nil, ErrInsufficientData
	}
	c := e.config
	m := scores.Market()
	s := scores.Sentiment()

	out := &trading.RiskAssessment{
		Symbol:    symbol,
		Timestamp: e.now(),
	}

	out.RiskScore = e.Score(scores)
	out.Leverage = e.Leverage(out.RiskScore)
	out.Trail.Add("risk score %.1f -> leverage %.0fx", out.RiskScore, out.Leverage)

	available := 0.0
	if e.capital != nil {
		available = math.Max(0, e.capital.Available())
	}
	size := available * c.PerTradeFraction * c.SizeMultiplier * (1 - out.RiskScore/200)
	if limit := available * c.MaxPositionFraction; size > limit {
		size = limit
	}
	out.PositionSize = size
	out.Trail.Add("position size %.2f of available %.2f", size, available)

	price := currentPrice
	if price <= 0 {
		price = m.CurrentPrice
	}

	stop, stopSource := e.snapStop(price, m.SupportLevels)
	target, targetSource := e.snapTarget(price, m.ResistanceLevels)
	if stopSource == sourceFormula {
		stop = c.BaseStopPct * (1 + m.Volatility*c.StopVolatilityFactor)
	}
	if targetSource == sourceFormula {
		quality := (100 - out.RiskScore) / 100
		target = c.BaseTargetPct * (1 + quality*c.TargetQualityFactor)
	}

	trendFactor := m.TrendStrength / 100
	stop *= 1 - trendFactor*c.TrendStopTightening
	target *= 1 + trendFactor*c.TrendTargetExpansion

	sentimentFactor := (s.Score + 100) / 200
	stop *= 1 - sentimentFactor*c.SentimentStopTightening
	target *= 1 + sentimentFactor*c.SentimentTargetExpansion

	if stop < c.MinStopPct || math.IsNaN(stop) {
		stop = c.MinStopPct
	}
	if target < c.MinTargetPct || math.IsNaN(target) {
		target = c.MinTargetPct
	}
	if target/stop < c.MinRiskReward {
		widened := stop * c.MinRiskReward
		out.Trail.Add("take-profit widened %.2f%% -> %.2f%% for min_risk_reward %.1f", target, widened, c.MinRiskReward)
		target = widened
	}

	out.StopLossPct = stop
	out.TakeProfitPct = target
	out.RiskRewardRatio = target / stop
	out.StopSource = stopSource
	out.TargetSource = targetSource
	out.Trail.Add("stop %.2f%% (%s) target %.2f%% (%s) rr %.1f", stop, stopSource, target, targetSource, out.RiskRewardRatio)

	marketConfidence := clamp(c.ConfidenceBase+m.TrendStrength*c.ConfidenceTrendWeight-m.Volatility*c.ConfidenceVolatilityPenalty, 0, 100)
	out.Confidence = clamp(marketConfidence*c.MarketConfidenceWeight+s.Confidence*(1-c.MarketConfidenceWeight), 0, 100)

	log.Debug().
		Str("symbol", symbol).
		Float64("risk_score", out.RiskScore).
		Float64("leverage", out.Leverage).
		Float64("size", out.PositionSize).
		Float64("rr", out.RiskRewardRatio).
		Msg("Risk assessed")

	return out, nil
}

// snapStop returns the distance to the nearest support below price inside
// the snap band, scaled in front of the level.
func (e *Engine) snapStop(price float64, supports []float64) (float64, string) {
	if price <= 0 {
		return 0, sourceFormula
	}
	best := math.Inf(1)
	for _, lvl := range supports {
		if lvl <= 0 || lvl >= price {
			continue
		}
		d := (price - lvl) / price * 100
		if d <= e.config.StopSnapMaxPct && d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return 0, sourceFormula
	}
	return best * e.config.StopSnapFactor, sourceSupport
}

// snapTarget returns the distance to the nearest resistance above price
// beyond the minimum band, scaled past the level.
func (e *Engine) snapTarget(price float64, resistances []float64) (float64, string) {
	if price <= 0 {
		return 0, sourceFormula
	}
	best := math.Inf(1)
	for _, lvl := range resistances {
		if lvl <= price {
			continue
		}
		d := (lvl - price) / price * 100
		if d >= e.config.TargetSnapMinPct && d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return 0, sourceFormula
	}
	return best * e.config.TargetSnapFactor, sourceResistance
}

// polarity penalises negative values and rewards positive ones.
func polarity(v, penalty, bonus float64) float64 {
	if v < 0 {
		return -v * penalty
	}
	return -v * bonus
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
