package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/events"
	"github.com/sawpanic/cryptotrader/internal/gates"
)

type mockRunner struct {
	results analyzers.Results
	calls   int
}

func (m *mockRunner) Run(ctx context.Context, symbol string, candles []trading.Candle) analyzers.Results {
	m.calls++
	return m.results
}

type mockSizer struct {
	assessment *trading.RiskAssessment
	err        error
	calls      int
}

func (m *mockSizer) Assess(symbol string, scores trading.Scores, currentPrice float64) (*trading.RiskAssessment, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := *m.assessment
	out.Symbol = symbol
	return &out, nil
}

type mockGate struct {
	approve   bool
	wp        float64
	calls     int
	direction trading.Direction
}

func (m *mockGate) Evaluate(symbol string, direction trading.Direction, sizing *trading.RiskAssessment, scores trading.Scores) *trading.AdmissionAssessment {
	m.calls++
	m.direction = direction
	out := &trading.AdmissionAssessment{
		Symbol:         symbol,
		Direction:      direction,
		WinProbability: m.wp,
		Approved:       m.approve,
	}
	passed := m.wp >= 80
	out.Checks = append(out.Checks, trading.GateCheck{
		Name:        gates.CheckWinProbability,
		Passed:      passed,
		Value:       m.wp,
		Threshold:   80,
		Description: "win_probability check",
	})
	if m.approve {
		out.Trail.Add("APPROVED: test")
	} else {
		out.Trail.Add("REJECTED: test")
	}
	return out
}

func marketScore(opportunity float64, details map[string]any) *trading.AnalyzerScore {
	d := map[string]any{trading.DetailCurrentPrice: 100.0}
	for k, v := range details {
		d[k] = v
	}
	return &trading.AnalyzerScore{Kind: trading.KindMarket, Score: opportunity, Confidence: 80, Details: d}
}

func sentimentScore(score float64) *trading.AnalyzerScore {
	return &trading.AnalyzerScore{Kind: trading.KindSentiment, Score: score, Confidence: 60}
}

func bullishScores() trading.Scores {
	return trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			trading.DetailTrendStrength:  60.0,
			trading.DetailTrendDirection: 1.0,
		}),
		trading.KindSentiment: sentimentScore(40),
	}
}

func bearishScores() trading.Scores {
	return trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			trading.DetailTrendStrength:  60.0,
			trading.DetailTrendDirection: -1.0,
		}),
		trading.KindSentiment: sentimentScore(-40),
	}
}

type fixture struct {
	runner *mockRunner
	sizer  *mockSizer
	gate   *mockGate
	events []events.Event
	agg    *Aggregator
}

func newFixture(scores trading.Scores) *fixture {
	f := &fixture{
		runner: &mockRunner{results: analyzers.Results{Scores: scores}},
		sizer: &mockSizer{assessment: &trading.RiskAssessment{
			RiskScore:       10,
			Leverage:        100,
			PositionSize:    200,
			StopLossPct:     1,
			TakeProfitPct:   12,
			RiskRewardRatio: 12,
		}},
		gate: &mockGate{approve: true, wp: 87},
	}
	pub := events.PublisherFunc(func(e events.Event) { f.events = append(f.events, e) })
	f.agg = NewAggregator(DefaultConfig(), f.runner, f.sizer, f.gate, WithPublisher(pub))
	return f
}

func (f *fixture) eventTypes() []events.Type {
	var out []events.Type
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func TestDecide_LowOpportunityHolds(t *testing.T) {
	f := newFixture(trading.Scores{
		trading.KindMarket:    marketScore(60, nil),
		trading.KindSentiment: sentimentScore(90),
	})

	d := f.agg.Decide(context.Background(), "BTCUSDT", nil)

	assert.Equal(t, trading.Hold, d.Kind)
	assert.Equal(t, 50.0, d.Confidence)
	assert.Contains(t, d.Reasoning(), "HOLD: opportunity 60.0 < min_opportunity_score 90.0")
	assert.Equal(t, 0, f.sizer.calls)
	assert.Equal(t, 0, f.gate.calls)
	assert.Nil(t, d.Risk)
	assert.Nil(t, d.Admission)
}

func TestDecide_MissingMandatoryIsInsufficientData(t *testing.T) {
	f := newFixture(trading.Scores{trading.KindMarket: marketScore(95, nil)})
	f.runner.results.Failures = []analyzers.Failure{{
		Name:      "momentum",
		Kind:      trading.KindSentiment,
		Mandatory: true,
		Err:       errors.New("feed down"),
	}}

	d := f.agg.Decide(context.Background(), "ETHUSDT", nil)

	assert.Equal(t, trading.InsufficientData, d.Kind)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Contains(t, d.Reasoning(), "missing mandatory sentiment")
	assert.Equal(t, 0, f.sizer.calls)
	assert.Equal(t, 0, f.gate.calls)
}

func TestDecide_OptionalFailureIsNoted(t *testing.T) {
	f := newFixture(bullishScores())
	f.runner.results.Failures = []analyzers.Failure{{
		Name: "forecast",
		Kind: trading.KindPredictive,
		Err:  analyzers.ErrNoSignal,
	}}

	d := f.agg.Decide(context.Background(), "BTCUSDT", nil)

	assert.Equal(t, trading.EnterLong, d.Kind)
	assert.Contains(t, d.Reasoning(), "optional predictive omitted")
}

func TestDecide_SizingErrorIsInsufficientData(t *testing.T) {
	f := newFixture(bullishScores())
	f.sizer.err = errors.New("no price")

	d := f.agg.Decide(context.Background(), "BTCUSDT", nil)

	assert.Equal(t, trading.InsufficientData, d.Kind)
	assert.Equal(t, 0, f.gate.calls)
}

func TestDecide_EnterLongAdmitted(t *testing.T) {
	f := newFixture(bullishScores())

	d := f.agg.Decide(context.Background(), "BTCUSDT", nil)

	require.Equal(t, trading.EnterLong, d.Kind)
	assert.Equal(t, 100.0, d.Confidence)
	assert.Equal(t, 100.0, d.LongScore)
	assert.Equal(t, 0.0, d.ShortScore)
	require.NotNil(t, d.Admission)
	assert.True(t, d.Admitted())
	assert.Equal(t, trading.Long, f.gate.direction)
	assert.Equal(t, 100.0, d.Price)
	assert.Contains(t, d.Reasoning(), "ENTER LONG")
	assert.Contains(t, d.Reasoning(), "APPROVED: test")
	assert.Equal(t, []events.Type{events.TradeAdmitted, events.DecisionMade}, f.eventTypes())

	// market 95*0.2 + sentiment 70*0.1 + admission 100*0.2 over 0.5
	assert.InDelta(t, 92.0, d.QualityScore, 1e-9)
}

func TestDecide_EnterShortRejected(t *testing.T) {
	f := newFixture(bearishScores())
	f.gate.approve = false

	d := f.agg.Decide(context.Background(), "SOLUSDT", nil)

	require.Equal(t, trading.EnterShort, d.Kind)
	assert.False(t, d.Admitted())
	assert.Equal(t, trading.Short, f.gate.direction)
	assert.Equal(t, []events.Type{events.TradeRejected, events.DecisionMade}, f.eventTypes())
	assert.Equal(t, gates.CheckWinProbability, f.events[0].Data["failed_check"])
}

func TestDecide_CachesLastDecision(t *testing.T) {
	f := newFixture(bullishScores())

	_, ok := f.agg.GetCachedDecision("BTCUSDT")
	assert.False(t, ok)

	first := f.agg.Decide(context.Background(), "BTCUSDT", nil)
	got, ok := f.agg.GetCachedDecision("BTCUSDT")
	require.True(t, ok)
	assert.Same(t, first, got)

	f.runner.results.Scores = trading.Scores{
		trading.KindMarket:    marketScore(10, nil),
		trading.KindSentiment: sentimentScore(0),
	}
	second := f.agg.Decide(context.Background(), "BTCUSDT", nil)
	got, _ = f.agg.GetCachedDecision("BTCUSDT")
	assert.Same(t, second, got)
	assert.Equal(t, trading.Hold, got.Kind)
	assert.Equal(t, 1, f.agg.Cache().Len())
}

func TestDecide_PriceFallsBackToLastClose(t *testing.T) {
	scores := bullishScores()
	delete(scores[trading.KindMarket].Details, trading.DetailCurrentPrice)
	f := newFixture(scores)

	candles := []trading.Candle{{OpenTime: time.Unix(0, 0), Close: 42}}
	d := f.agg.Decide(context.Background(), "BTCUSDT", candles)

	assert.Equal(t, 42.0, d.Price)
}

func TestDirectionalScores_Confluence(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	scores := trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			trading.DetailIndicators: map[string]float64{
				trading.IndicatorRSI:           15,
				trading.IndicatorMACD:          2,
				trading.IndicatorMACDSignal:    1,
				trading.IndicatorMACDHistogram: 1,
				trading.IndicatorBBUpper:       110,
				trading.IndicatorBBMiddle:      105,
				trading.IndicatorBBLower:       101,
			},
		}),
		trading.KindSentiment: sentimentScore(0),
	}

	var trail trading.Trail
	s := agg.directionalScores(scores, 100, &trail)
	assert.Equal(t, 3, s.longConfirmations)
	assert.Equal(t, 0, s.shortConfirmations)

	// (30-15)^1.5 + 30 + 25
	raw := 58.09475019311125 + 55
	assert.InDelta(t, raw, s.long, 1e-9)

	agg.applyConfluence(&s, &trail)
	assert.InDelta(t, raw*1.6, s.long, 1e-9)
	assert.Equal(t, 0.0, s.short)
}

func TestDirectionalScores_TwoConfirmationsNoConfluence(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	scores := trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			trading.DetailIndicators: map[string]float64{
				trading.IndicatorRSI:        15,
				trading.IndicatorMACD:       2,
				trading.IndicatorMACDSignal: 1,
			},
		}),
		trading.KindSentiment: sentimentScore(0),
	}

	var trail trading.Trail
	s := agg.directionalScores(scores, 100, &trail)
	before := s.long
	agg.applyConfluence(&s, &trail)
	assert.Equal(t, before, s.long)
}

func TestDirectionalScores_LevelsForecastPatterns(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	scores := trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			trading.DetailSupportLevels:    []float64{99.8},
			trading.DetailResistanceLevels: []float64{100.7},
		}),
		trading.KindSentiment: sentimentScore(0),
		trading.KindPredictive: {
			Kind: trading.KindPredictive, Score: 50, Confidence: 80,
			Details: map[string]any{trading.DetailForecastPrice: 103.0},
		},
		trading.KindPattern: {
			Kind: trading.KindPattern, Score: 40, Confidence: 70,
			Details: map[string]any{trading.DetailPatterns: []trading.PatternMatch{
				{Name: "Bearish Engulfing", Confidence: 50},
				{Name: "Doji", Confidence: 90},
			}},
		},
	}

	var trail trading.Trail
	s := agg.directionalScores(scores, 100, &trail)

	// support 0.2% away +50, forecast +3% 80*0.5
	assert.InDelta(t, 90.0, s.long, 1e-9)
	// resistance 0.7% away +30, bearish pattern 50*0.3
	assert.InDelta(t, 45.0, s.short, 1e-9)
}

func TestDirectionalScores_LevelsOnWrongSideIgnored(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	scores := trading.Scores{
		trading.KindMarket: marketScore(95, map[string]any{
			// broken support above price, broken resistance below it
			trading.DetailSupportLevels:    []float64{100.2, 99.3},
			trading.DetailResistanceLevels: []float64{99.9},
		}),
		trading.KindSentiment: sentimentScore(0),
	}

	var trail trading.Trail
	s := agg.directionalScores(scores, 100, &trail)

	// only the support 0.7% below counts
	assert.InDelta(t, 30.0, s.long, 1e-9)
	assert.Equal(t, 1, s.longConfirmations)
	assert.Equal(t, 0.0, s.short)
	assert.Equal(t, 0, s.shortConfirmations)
}

func TestChoose_Dominance(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	var trail trading.Trail

	kind, conf := agg.choose(sideScores{long: 75, short: 50}, &trail)
	assert.Equal(t, trading.EnterLong, kind)
	assert.Equal(t, 75.0, conf)

	kind, conf = agg.choose(sideScores{long: 80, short: 60}, &trail)
	assert.Equal(t, trading.Hold, kind)
	assert.Equal(t, 50.0, conf)

	kind, _ = agg.choose(sideScores{long: 10, short: 70}, &trail)
	assert.Equal(t, trading.Hold, kind)

	kind, conf = agg.choose(sideScores{long: 0, short: 140}, &trail)
	assert.Equal(t, trading.EnterShort, kind)
	assert.Equal(t, 100.0, conf)
}

func TestApplyDamping(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil, nil, nil)
	var trail trading.Trail
	s := sideScores{long: 100, short: 40}
	agg.applyDamping(&s, 75, &trail)
	assert.InDelta(t, 12.5, s.long, 1e-9)
	assert.InDelta(t, 5.0, s.short, 1e-9)
}

func TestEvaluateExit_RequestedLiquidation(t *testing.T) {
	f := newFixture(bullishScores())
	f.agg.RequestExit("BTCUSDT", "operator")

	d := f.agg.EvaluateExit(context.Background(), "BTCUSDT", nil, trading.Long)
	assert.Equal(t, trading.Exit, d.Kind)
	assert.Equal(t, 100.0, d.Confidence)
	assert.Contains(t, d.Reasoning(), "liquidation requested: operator")
	assert.Equal(t, 0, f.runner.calls)

	// the request is consumed
	d = f.agg.EvaluateExit(context.Background(), "BTCUSDT", nil, trading.Long)
	assert.Equal(t, trading.Hold, d.Kind)
}

func TestEvaluateExit_OppositeSignal(t *testing.T) {
	f := newFixture(bearishScores())

	d := f.agg.EvaluateExit(context.Background(), "BTCUSDT", nil, trading.Long)

	assert.Equal(t, trading.Exit, d.Kind)
	assert.Contains(t, d.Reasoning(), "short signal against live long position")
	assert.Equal(t, 0, f.gate.calls)
}

func TestEvaluateExit_WinProbabilityDrop(t *testing.T) {
	f := newFixture(bullishScores())
	f.gate.wp = 70
	f.gate.approve = false

	d := f.agg.EvaluateExit(context.Background(), "BTCUSDT", nil, trading.Long)

	assert.Equal(t, trading.Exit, d.Kind)
	assert.Equal(t, 30.0, d.Confidence)
	assert.Equal(t, trading.Long, f.gate.direction)
}

func TestEvaluateExit_HoldsWhileProbable(t *testing.T) {
	f := newFixture(bullishScores())

	d := f.agg.EvaluateExit(context.Background(), "BTCUSDT", nil, trading.Long)

	assert.Equal(t, trading.Hold, d.Kind)
	assert.Equal(t, 87.0, d.Confidence)
	// exit checks never announce admissions
	assert.Equal(t, []events.Type{events.DecisionMade}, f.eventTypes())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.DominanceRatio = 0.5
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.MandatoryAnalyzers = []trading.AnalyzerKind{"astrology"}
	assert.Error(t, c.Validate())
}
