package trading

import "math"

// Detail keys shared by analyzers and consumers.
const (
	DetailCurrentPrice     = "current_price"
	DetailVolatility       = "volatility"
	DetailTrendStrength    = "trend_strength"
	DetailTrendDirection   = "trend_direction"
	DetailSupportLevels    = "support_levels"
	DetailResistanceLevels = "resistance_levels"
	DetailIndicators       = "indicators"
	DetailMomentum         = "momentum"
	DetailForecastPrice    = "forecast_price"
	DetailReversalPoints   = "reversal_points"
	DetailPatterns         = "patterns"
	DetailPriceTargets     = "price_targets"
)

// Indicator keys inside DetailIndicators.
const (
	IndicatorRSI           = "rsi"
	IndicatorMACD          = "macd"
	IndicatorMACDSignal    = "macd_signal"
	IndicatorMACDHistogram = "macd_histogram"
	IndicatorBBUpper       = "bb_upper"
	IndicatorBBMiddle      = "bb_middle"
	IndicatorBBLower       = "bb_lower"
)

// MarketView is the typed reading of a market analyzer score.
type MarketView struct {
	Present          bool
	Opportunity      float64
	Confidence       float64
	CurrentPrice     float64
	Volatility       float64
	TrendStrength    float64
	TrendDirection   float64
	SupportLevels    []float64
	ResistanceLevels []float64
	Indicators       map[string]float64
}

// Indicator returns the named indicator or fallback when absent.
func (m MarketView) Indicator(name string, fallback float64) float64 {
	if v, ok := m.Indicators[name]; ok && !math.IsNaN(v) {
		return v
	}
	return fallback
}

// HasIndicator reports whether the named indicator was supplied.
func (m MarketView) HasIndicator(name string) bool {
	_, ok := m.Indicators[name]
	return ok
}

// Market reads the market score. A missing score yields neutral values.
func (s Scores) Market() MarketView {
	sc := s[KindMarket]
	if sc == nil {
		return MarketView{Indicators: map[string]float64{}}
	}
	dir := floatDetail(sc.Details, DetailTrendDirection, 0)
	switch {
	case dir > 0:
		dir = 1
	case dir < 0:
		dir = -1
	}
	return MarketView{
		Present:          true,
		Opportunity:      sc.Score,
		Confidence:       sc.Confidence,
		CurrentPrice:     floatDetail(sc.Details, DetailCurrentPrice, 0),
		Volatility:       floatDetail(sc.Details, DetailVolatility, 0),
		TrendStrength:    floatDetail(sc.Details, DetailTrendStrength, 0),
		TrendDirection:   dir,
		SupportLevels:    floatsDetail(sc.Details, DetailSupportLevels),
		ResistanceLevels: floatsDetail(sc.Details, DetailResistanceLevels),
		Indicators:       floatMapDetail(sc.Details, DetailIndicators),
	}
}

// SentimentView is the typed reading of a sentiment score.
type SentimentView struct {
	Present    bool
	Score      float64
	Momentum   float64
	Confidence float64
}

// Sentiment reads the sentiment score. Missing confidence reads as 50.
func (s Scores) Sentiment() SentimentView {
	sc := s[KindSentiment]
	if sc == nil {
		return SentimentView{Confidence: 50}
	}
	return SentimentView{
		Present:    true,
		Score:      sc.Score,
		Momentum:   floatDetail(sc.Details, DetailMomentum, 0),
		Confidence: sc.Confidence,
	}
}

// ForecastView is the typed reading of a predictive score.
type ForecastView struct {
	Present        bool
	ForecastPrice  float64
	Confidence     float64
	ReversalPoints []float64
}

// DeltaPct returns the forecast move relative to price in percent.
func (f ForecastView) DeltaPct(price float64) float64 {
	if !f.Present || price <= 0 || f.ForecastPrice <= 0 {
		return 0
	}
	return (f.ForecastPrice - price) / price * 100
}

// Forecast reads the predictive score.
func (s Scores) Forecast() ForecastView {
	sc := s[KindPredictive]
	if sc == nil {
		return ForecastView{}
	}
	return ForecastView{
		Present:        true,
		ForecastPrice:  floatDetail(sc.Details, DetailForecastPrice, 0),
		Confidence:     sc.Confidence,
		ReversalPoints: floatsDetail(sc.Details, DetailReversalPoints),
	}
}

// PatternMatch is one named chart pattern.
type PatternMatch struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// PatternView is the typed reading of a pattern score.
type PatternView struct {
	Present      bool
	Confluence   float64
	Patterns     []PatternMatch
	PriceTargets []float64
}

// Patterns reads the pattern score.
func (s Scores) Patterns() PatternView {
	sc := s[KindPattern]
	if sc == nil {
		return PatternView{}
	}
	return PatternView{
		Present:      true,
		Confluence:   sc.Score,
		Patterns:     patternsDetail(sc.Details),
		PriceTargets: floatsDetail(sc.Details, DetailPriceTargets),
	}
}

// Details arrive either as typed Go values from in-process analyzers or as
// generic JSON values after a round trip through a cache.

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatDetail(details map[string]any, key string, fallback float64) float64 {
	if f, ok := toFloat(details[key]); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return fallback
}

func floatsDetail(details map[string]any, key string) []float64 {
	switch v := details[key].(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := toFloat(item); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

func floatMapDetail(details map[string]any, key string) map[string]float64 {
	out := map[string]float64{}
	switch v := details[key].(type) {
	case map[string]float64:
		for k, f := range v {
			out[k] = f
		}
	case map[string]any:
		for k, item := range v {
			if f, ok := toFloat(item); ok {
				out[k] = f
			}
		}
	}
	return out
}

func patternsDetail(details map[string]any) []PatternMatch {
	switch v := details[DetailPatterns].(type) {
	case []PatternMatch:
		out := make([]PatternMatch, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]PatternMatch, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			conf, _ := toFloat(m["confidence"])
			out = append(out, PatternMatch{Name: name, Confidence: conf})
		}
		return out
	default:
		return nil
	}
}
