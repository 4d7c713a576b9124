package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

func scoresFor(market map[string]any, sentiment, momentum, sentimentConfidence float64) trading.Scores {
	return trading.Scores{
		trading.KindMarket: {
			Kind:    trading.KindMarket,
			Symbol:  "BTCUSDT",
			Score:   95,
			Details: market,
		},
		trading.KindSentiment: {
			Kind:       trading.KindSentiment,
			Symbol:     "BTCUSDT",
			Score:      sentiment,
			Confidence: sentimentConfidence,
			Details:    map[string]any{trading.DetailMomentum: momentum},
		},
	}
}

func TestEngine_LeverageIsMonotonicStepFunction(t *testing.T) {
	engine := NewEngine(DefaultConfig(), NewLedger(0))

	cases := []struct {
		risk     float64
		leverage float64
	}{
		{0, 100}, {9.99, 100}, {10, 75}, {19.9, 75}, {20, 50}, {30, 25},
		{40, 20}, {50, 15}, {60, 10}, {70, 5}, {79.99, 5}, {80, 3}, {100, 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.leverage, engine.Leverage(tc.risk), "risk %.2f", tc.risk)
	}

	prev := engine.Leverage(0)
	for r := 0.0; r <= 100; r += 0.25 {
		lev := engine.Leverage(r)
		assert.LessOrEqual(t, lev, prev, "leverage increased at risk %.2f", r)
		prev = lev
	}

	// No interpolation inside a band.
	assert.Equal(t, engine.Leverage(21), engine.Leverage(29.9))
}

func TestEngine_RiskRewardFloorWidensTarget(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg, NewLedger(1000))

	// Resistance 3.1% above price snaps a small target and fully bearish
	// sentiment leaves it unexpanded, so the raw ratio falls well short.
	scores := scoresFor(map[string]any{
		trading.DetailCurrentPrice:     100.0,
		trading.DetailVolatility:       20.0,
		trading.DetailResistanceLevels: []float64{103.1},
	}, -100, 0, 100)

	got, err := engine.Assess("BTCUSDT", scores, 100)
	require.NoError(t, err)

	expectedStop := cfg.BaseStopPct * (1 + 20*cfg.StopVolatilityFactor)
	assert.InDelta(t, expectedStop, got.StopLossPct, 1e-9, "stop must not be tightened")
	assert.InDelta(t, expectedStop*cfg.MinRiskReward, got.TakeProfitPct, 1e-9)
	assert.GreaterOrEqual(t, got.RiskRewardRatio, cfg.MinRiskReward-1e-9)
	assert.Equal(t, sourceResistance, got.TargetSource)
	assert.Contains(t, got.Trail.String(), "take-profit widened")
}

func TestEngine_RiskRewardFloorHoldsAcrossInputs(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg, NewLedger(500))

	for vol := 0.0; vol <= 30; vol += 5 {
		for sent := -100.0; sent <= 100; sent += 50 {
			for trend := 0.0; trend <= 100; trend += 25 {
				scores := scoresFor(map[string]any{
					trading.DetailCurrentPrice:     100.0,
					trading.DetailVolatility:       vol,
					trading.DetailTrendStrength:    trend,
					trading.DetailTrendDirection:   1.0,
					trading.DetailSupportLevels:    []float64{99.0},
					trading.DetailResistanceLevels: []float64{104.0},
				}, sent, sent/2, 70)
				got, err := engine.Assess("ETHUSDT", scores, 100)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, got.RiskRewardRatio, cfg.MinRiskReward-1e-9)
				assert.GreaterOrEqual(t, got.StopLossPct, cfg.MinStopPct)
				assert.GreaterOrEqual(t, got.TakeProfitPct, cfg.MinTargetPct)
			}
		}
	}
}

func TestEngine_StopSnapsToSupport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrendStopTightening = 0
	cfg.SentimentStopTightening = 0
	engine := NewEngine(cfg, NewLedger(1000))

	scores := scoresFor(map[string]any{
		trading.DetailCurrentPrice:  100.0,
		trading.DetailSupportLevels: []float64{90, 98.5, 101},
	}, 0, 0, 100)

	got, err := engine.Assess("BTCUSDT", scores, 100)
	require.NoError(t, err)
	assert.Equal(t, sourceSupport, got.StopSource)
	assert.InDelta(t, 1.5*cfg.StopSnapFactor, got.StopLossPct, 1e-9)
}

func TestEngine_ZeroPriceFallsBackToFormula(t *testing.T) {
	engine := NewEngine(DefaultConfig(), NewLedger(1000))
	scores := scoresFor(map[string]any{
		trading.DetailSupportLevels: []float64{99},
	}, 0, 0, 50)

	got, err := engine.Assess("BTCUSDT", scores, 0)
	require.NoError(t, err)
	assert.Equal(t, sourceFormula, got.StopSource)
	assert.Equal(t, sourceFormula, got.TargetSource)
	assert.Greater(t, got.StopLossPct, 0.0)
	assert.False(t, math.IsNaN(got.RiskRewardRatio))
}

func TestEngine_PositionSizeUsesAvailableCapital(t *testing.T) {
	cfg := DefaultConfig()
	ledger := NewLedger(1000)
	ledger.Commit("ETHUSDT", 600)
	engine := NewEngine(cfg, ledger)

	scores := scoresFor(map[string]any{trading.DetailCurrentPrice: 100.0}, 0, 0, 100)
	got, err := engine.Assess("BTCUSDT", scores, 100)
	require.NoError(t, err)

	// Risk score is exactly the base with neutral inputs.
	assert.InDelta(t, 50.0, got.RiskScore, 1e-9)
	expected := 400 * cfg.PerTradeFraction * cfg.SizeMultiplier * (1 - 50.0/200)
	assert.InDelta(t, expected, got.PositionSize, 1e-9)

	ledger.Commit("SOLUSDT", 1000)
	got, err = engine.Assess("BTCUSDT", scores, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.PositionSize)
}

func TestEngine_PositionSizeCappedByFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerTradeFraction = 1
	cfg.SizeMultiplier = 1
	engine := NewEngine(cfg, NewLedger(1000))

	scores := scoresFor(map[string]any{trading.DetailCurrentPrice: 100.0}, 0, 0, 100)
	got, err := engine.Assess("BTCUSDT", scores, 100)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, got.PositionSize, 1e-9)
}

func TestEngine_ScoreAdjustments(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	calm := scoresFor(map[string]any{
		trading.DetailCurrentPrice:   100.0,
		trading.DetailTrendStrength:  50.0,
		trading.DetailTrendDirection: 1.0,
	}, 40, 10, 100)
	// 50 - 10 (trend) - 12 (sentiment) - 3 (momentum)
	assert.InDelta(t, 25.0, engine.Score(calm), 1e-9)

	stressed := scoresFor(map[string]any{
		trading.DetailCurrentPrice:  100.0,
		trading.DetailVolatility:    10.0,
		trading.DetailSupportLevels: []float64{99.0},
	}, -40, -10, 50)
	// 50 + 20 (vol) + 10 (level) + 20 + 5 + 10 (confidence)
	assert.InDelta(t, 100.0, engine.Score(stressed), 1e-9)
}

func TestEngine_MissingMandatoryInput(t *testing.T) {
	engine := NewEngine(DefaultConfig(), NewLedger(1000))
	scores := scoresFor(nil, 0, 0, 50)
	delete(scores, trading.KindSentiment)

	_, err := engine.Assess("BTCUSDT", scores, 100)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.LeverageTiers[2].Leverage = 90
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinStopPct = 0
	assert.ErrorContains(t, cfg.Validate(), "min_stop_pct")
}

func TestLedger_Available(t *testing.T) {
	l := NewLedger(100)
	l.Commit("A", 30)
	l.Commit("B", 50)
	assert.InDelta(t, 20.0, l.Available(), 1e-9)
	l.Commit("A", 80)
	assert.Equal(t, 0.0, l.Available())
	l.Release("A")
	assert.InDelta(t, 50.0, l.Available(), 1e-9)
	l.Reset(nil)
	assert.InDelta(t, 100.0, l.Available(), 1e-9)
}
