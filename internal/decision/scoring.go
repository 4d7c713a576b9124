package decision

import (
	"math"
	"strings"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// sideScores accumulates directional evidence for one symbol.
type sideScores struct {
	long               float64
	short              float64
	longConfirmations  int
	shortConfirmations int
}

func (s *sideScores) add(dir, amount float64) {
	switch {
	case dir > 0:
		s.long += amount
	case dir < 0:
		s.short += amount
	}
}

func (s *sideScores) confirm(dir float64) {
	switch {
	case dir > 0:
		s.longConfirmations++
	case dir < 0:
		s.shortConfirmations++
	}
}

// directionalScores computes raw long/short scores before confluence and
// damping. Indicator confirmations are counted per side.
func (a *Aggregator) directionalScores(scores trading.Scores, price float64, trail *trading.Trail) sideScores {
	c := a.config
	m := scores.Market()
	s := scores.Sentiment()
	var out sideScores

	// Trend power rewards strong trends quadratically.
	if m.TrendDirection != 0 && m.TrendStrength > 0 {
		power := math.Pow(m.TrendStrength/c.TrendDivisor, c.TrendExponent) * c.TrendMultiplier
		out.add(m.TrendDirection, power)
		trail.Add("trend %.1f dir %+.0f power %.1f", m.TrendStrength, m.TrendDirection, power)
	}

	rsi := m.Indicator(trading.IndicatorRSI, 50)
	switch {
	case rsi < c.RSIOversold:
		v := math.Pow(c.RSIOversoldPivot-rsi, c.RSIExponent)
		out.add(1, v)
		out.confirm(1)
		trail.Add("rsi %.1f oversold +%.1f long", rsi, v)
	case rsi > c.RSIOverbought:
		v := math.Pow(rsi-c.RSIOverboughtPivot, c.RSIExponent)
		out.add(-1, v)
		out.confirm(-1)
		trail.Add("rsi %.1f overbought +%.1f short", rsi, v)
	}

	if m.HasIndicator(trading.IndicatorMACD) && m.HasIndicator(trading.IndicatorMACDSignal) {
		macd := m.Indicator(trading.IndicatorMACD, 0)
		signal := m.Indicator(trading.IndicatorMACDSignal, 0)
		hist := m.Indicator(trading.IndicatorMACDHistogram, macd-signal)
		switch {
		case macd > signal && hist > 0:
			out.add(1, c.MACDContribution)
			out.confirm(1)
			trail.Add("macd bullish crossover +%.0f long", c.MACDContribution)
		case macd < signal && hist < 0:
			out.add(-1, c.MACDContribution)
			out.confirm(-1)
			trail.Add("macd bearish crossover +%.0f short", c.MACDContribution)
		}
	}

	upper := m.Indicator(trading.IndicatorBBUpper, 0)
	lower := m.Indicator(trading.IndicatorBBLower, 0)
	middle := m.Indicator(trading.IndicatorBBMiddle, 0)
	if middle > 0 && upper > lower && price > 0 {
		width := (upper - lower) / middle * 100
		if width > c.BollingerMinWidthPct {
			switch {
			case price > upper:
				out.add(-1, c.BollingerContribution)
				out.confirm(-1)
				trail.Add("price above upper band width %.1f%% +%.0f short", width, c.BollingerContribution)
			case price < lower:
				out.add(1, c.BollingerContribution)
				out.confirm(1)
				trail.Add("price below lower band width %.1f%% +%.0f long", width, c.BollingerContribution)
			}
		}
	}

	if price > 0 {
		if v, d := a.levelContribution(price, m.SupportLevels, true); v > 0 {
			out.add(1, v)
			out.confirm(1)
			trail.Add("support %.2f%% away +%.0f long", d, v)
		}
		if v, d := a.levelContribution(price, m.ResistanceLevels, false); v > 0 {
			out.add(-1, v)
			out.confirm(-1)
			trail.Add("resistance %.2f%% away +%.0f short", d, v)
		}
	}

	power := math.Pow(math.Abs(s.Score), c.SentimentExponent)
	switch {
	case s.Score > c.SentimentThreshold:
		out.add(1, power*c.SentimentWeight)
		trail.Add("sentiment %.1f +%.1f long", s.Score, power*c.SentimentWeight)
	case s.Score < -c.SentimentThreshold:
		out.add(-1, power*c.SentimentWeight)
		trail.Add("sentiment %.1f +%.1f short", s.Score, power*c.SentimentWeight)
	}
	switch {
	case s.Momentum > c.SentimentMomentumThreshold:
		out.add(1, s.Momentum*c.SentimentMomentumWeight)
		trail.Add("sentiment momentum %.1f +%.1f long", s.Momentum, s.Momentum*c.SentimentMomentumWeight)
	case s.Momentum < -c.SentimentMomentumThreshold:
		out.add(-1, -s.Momentum*c.SentimentMomentumWeight)
		trail.Add("sentiment momentum %.1f +%.1f short", s.Momentum, -s.Momentum*c.SentimentMomentumWeight)
	}

	if f := scores.Forecast(); f.Present {
		delta := f.DeltaPct(price)
		switch {
		case delta > c.ForecastDeltaPct:
			out.add(1, f.Confidence*c.ForecastWeight)
			trail.Add("forecast %+.2f%% +%.1f long", delta, f.Confidence*c.ForecastWeight)
		case delta < -c.ForecastDeltaPct:
			out.add(-1, f.Confidence*c.ForecastWeight)
			trail.Add("forecast %+.2f%% +%.1f short", delta, f.Confidence*c.ForecastWeight)
		}
	}

	if p := scores.Patterns(); p.Present {
		for i, pattern := range p.Patterns {
			if i >= c.MaxPatterns {
				break
			}
			v := pattern.Confidence * c.PatternWeight
			switch {
			case c.BullishKeyword != "" && strings.Contains(pattern.Name, c.BullishKeyword):
				out.add(1, v)
				trail.Add("pattern %s +%.1f long", pattern.Name, v)
			case c.BearishKeyword != "" && strings.Contains(pattern.Name, c.BearishKeyword):
				out.add(-1, v)
				trail.Add("pattern %s +%.1f short", pattern.Name, v)
			}
		}
		if len(p.PriceTargets) > 0 {
			trail.Add("pattern targets %v", p.PriceTargets)
		}
	}

	return out
}

// levelContribution scores the nearest level on the given side of price
// by proximity bands: below for supports, above for resistances. Returns
// the contribution and the distance in percent.
func (a *Aggregator) levelContribution(price float64, levels []float64, below bool) (float64, float64) {
	nearest := math.Inf(1)
	for _, lvl := range levels {
		if lvl <= 0 || (below && lvl >= price) || (!below && lvl <= price) {
			continue
		}
		if d := math.Abs(price-lvl) / price * 100; d < nearest {
			nearest = d
		}
	}
	switch {
	case nearest < a.config.LevelTightPct:
		return a.config.LevelTightContribution, nearest
	case nearest < a.config.LevelNearPct:
		return a.config.LevelNearContribution, nearest
	default:
		return 0, nearest
	}
}

// applyConfluence multiplies a side by 1+step*n when at least the minimum
// number of confirmations agree on it.
func (a *Aggregator) applyConfluence(s *sideScores, trail *trading.Trail) {
	c := a.config
	if s.longConfirmations >= c.ConfluenceMinConfirmations {
		mult := 1 + c.ConfluenceStep*float64(s.longConfirmations)
		s.long *= mult
		trail.Add("long confluence %d confirmations x%.2f", s.longConfirmations, mult)
	}
	if s.shortConfirmations >= c.ConfluenceMinConfirmations {
		mult := 1 + c.ConfluenceStep*float64(s.shortConfirmations)
		s.short *= mult
		trail.Add("short confluence %d confirmations x%.2f", s.shortConfirmations, mult)
	}
}

// applyDamping scales both sides by ((100-risk)/100)^exponent.
func (a *Aggregator) applyDamping(s *sideScores, riskScore float64, trail *trading.Trail) {
	factor := math.Pow(math.Max(0, 100-riskScore)/100, a.config.RiskDampingExponent)
	s.long *= factor
	s.short *= factor
	trail.Add("risk %.1f damping x%.3f", riskScore, factor)
}

// choose picks the decision from clamped scores.
func (a *Aggregator) choose(s sideScores, trail *trading.Trail) (trading.DecisionKind, float64) {
	c := a.config
	long := clamp(s.long, 0, 100)
	short := clamp(s.short, 0, 100)
	trail.Add("long %.1f short %.1f", long, short)

	switch {
	case long > c.DecisionThreshold && long >= short*c.DominanceRatio:
		trail.Add("ENTER LONG: long %.1f > decision_threshold %.1f and >= %.1fx short", long, c.DecisionThreshold, c.DominanceRatio)
		return trading.EnterLong, long
	case short > c.DecisionThreshold && short >= long*c.DominanceRatio:
		trail.Add("ENTER SHORT: short %.1f > decision_threshold %.1f and >= %.1fx long", short, c.DecisionThreshold, c.DominanceRatio)
		return trading.EnterShort, short
	default:
		trail.Add("HOLD: no side above decision_threshold %.1f with %.1fx dominance", c.DecisionThreshold, c.DominanceRatio)
		return trading.Hold, c.HoldConfidence
	}
}

// qualityScore is the weighted mean of the non-zero components.
func (a *Aggregator) qualityScore(scores trading.Scores, admission *trading.AdmissionAssessment) float64 {
	q := a.config.Quality
	type component struct{ value, weight float64 }
	var parts []component

	if m := scores.Market(); m.Present {
		parts = append(parts, component{m.Opportunity, q.MarketWeight})
	}
	if s := scores.Sentiment(); s.Present {
		parts = append(parts, component{50 + s.Score/2, q.SentimentWeight})
	}
	if f := scores.Forecast(); f.Present {
		parts = append(parts, component{f.Confidence * q.ForecastScale, q.ForecastWeight})
	}
	if p := scores.Patterns(); p.Present {
		parts = append(parts, component{math.Min(100, p.Confluence*q.PatternScale), q.PatternWeight})
	}
	if admission != nil && admission.Approved {
		parts = append(parts, component{100, q.AdmissionWeight})
	}

	var sum, weights float64
	for _, p := range parts {
		if p.value <= 0 || p.weight <= 0 {
			continue
		}
		sum += p.value * p.weight
		weights += p.weight
	}
	if weights == 0 {
		return 0
	}
	return math.Min(100, sum/weights)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
