package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

type admissionFixture struct {
	opportunity    float64
	volatility     float64
	trendDirection float64
	sentiment      float64
	levels         bool
}

func (f admissionFixture) scores() trading.Scores {
	details := map[string]any{
		trading.DetailCurrentPrice:   100.0,
		trading.DetailVolatility:     f.volatility,
		trading.DetailTrendDirection: f.trendDirection,
	}
	if f.levels {
		details[trading.DetailSupportLevels] = []float64{97.0}
	}
	return trading.Scores{
		trading.KindMarket:    {Kind: trading.KindMarket, Score: f.opportunity, Details: details},
		trading.KindSentiment: {Kind: trading.KindSentiment, Score: f.sentiment, Confidence: 80},
	}
}

func sizing(riskScore, stopPct, targetPct, size float64) *trading.RiskAssessment {
	return &trading.RiskAssessment{
		Symbol:          "BTCUSDT",
		RiskScore:       riskScore,
		Leverage:        10,
		PositionSize:    size,
		StopLossPct:     stopPct,
		TakeProfitPct:   targetPct,
		RiskRewardRatio: targetPct / stopPct,
	}
}

func TestAdmissionGate_WinProbability(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())

	f := admissionFixture{opportunity: 60, trendDirection: 1, sentiment: 30, levels: true}
	// 60 + 10 (trend) + 3 (sentiment) + 5 (risk 50) + 5 (levels)
	assert.InDelta(t, 83.0, gate.WinProbability(trading.Long, sizing(50, 1, 12, 100), f.scores()), 1e-9)
	// 60 - 10 - 3 + 5 + 5
	assert.InDelta(t, 57.0, gate.WinProbability(trading.Short, sizing(50, 1, 12, 100), f.scores()), 1e-9)

	f.opportunity = 100
	assert.Equal(t, 100.0, gate.WinProbability(trading.Long, sizing(0, 1, 12, 100), f.scores()))
}

func TestAdmissionGate_Approves(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())
	f := admissionFixture{opportunity: 70, trendDirection: 1, sentiment: 20, levels: false}

	got := gate.Evaluate("BTCUSDT", trading.Long, sizing(50, 1, 12, 200), f.scores())
	require.True(t, got.Approved, got.Trail.String())

	// 70 + 10 + 2 + 5
	assert.InDelta(t, 87.0, got.WinProbability, 1e-9)
	assert.InDelta(t, 2.0, got.RiskAmount, 1e-9)
	assert.InDelta(t, 24.0, got.RewardAmount, 1e-9)
	assert.InDelta(t, 12.0, got.RiskRewardRatio, 1e-9)
	assert.InDelta(t, 0.87*24-0.13*2, got.ExpectedValue, 1e-9)
	assert.InDelta(t, 99.0, got.StopLossPrice, 1e-9)
	assert.InDelta(t, 112.0, got.TakeProfitPrice, 1e-9)
	assert.Len(t, got.Checks, 5)
	assert.Empty(t, got.FailureReasons())
	assert.Contains(t, got.Trail.String(), "APPROVED")
}

func TestAdmissionGate_ShortPrices(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())
	f := admissionFixture{opportunity: 80, trendDirection: -1, sentiment: -20}

	got := gate.Evaluate("BTCUSDT", trading.Short, sizing(50, 1, 12, 200), f.scores())
	assert.InDelta(t, 101.0, got.StopLossPrice, 1e-9)
	assert.InDelta(t, 88.0, got.TakeProfitPrice, 1e-9)
	assert.True(t, got.Approved, got.Trail.String())
}

func TestAdmissionGate_RejectionsShortCircuit(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())

	cases := []struct {
		name      string
		fixture   admissionFixture
		sizing    *trading.RiskAssessment
		failed    string
		numChecks int
	}{
		{
			name:      "win probability floor",
			fixture:   admissionFixture{opportunity: 50},
			sizing:    sizing(50, 1, 12, 200),
			failed:    "win_probability",
			numChecks: 1,
		},
		{
			name:      "risk reward floor",
			fixture:   admissionFixture{opportunity: 90},
			sizing:    sizing(50, 1, 8, 200),
			failed:    "risk_reward",
			numChecks: 2,
		},
		{
			name:      "expected value floor",
			fixture:   admissionFixture{opportunity: 90},
			sizing:    sizing(50, 0.5, 6, 5),
			failed:    "expected_value",
			numChecks: 3,
		},
		{
			name:      "volatility raises win probability",
			fixture:   admissionFixture{opportunity: 80, volatility: 12},
			sizing:    sizing(50, 1, 12, 200),
			failed:    "high_volatility_win_probability",
			numChecks: 4,
		},
		{
			name:      "extreme sentiment raises risk reward",
			fixture:   admissionFixture{opportunity: 90, sentiment: 90},
			sizing:    sizing(50, 1, 12, 200),
			failed:    "extreme_sentiment_risk_reward",
			numChecks: 5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := gate.Evaluate("BTCUSDT", trading.Long, tc.sizing, tc.fixture.scores())
			assert.False(t, got.Approved)
			require.Len(t, got.Checks, tc.numChecks)
			last := got.Checks[len(got.Checks)-1]
			assert.Equal(t, tc.failed, last.Name)
			assert.False(t, last.Passed)
			require.Len(t, got.FailureReasons(), 1)
			assert.Contains(t, got.Trail.String(), "REJECTED: "+tc.failed)
		})
	}
}

func TestAdmissionGate_Idempotent(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())
	f := admissionFixture{opportunity: 85, trendDirection: 1, sentiment: 40, levels: true}
	s := sizing(35, 0.8, 10, 150)

	first := gate.Evaluate("ETHUSDT", trading.Long, s, f.scores())
	second := gate.Evaluate("ETHUSDT", trading.Long, s, f.scores())

	assert.Equal(t, first.Approved, second.Approved)
	assert.Equal(t, first.ExpectedValue, second.ExpectedValue)
	assert.Equal(t, first.WinProbability, second.WinProbability)
	assert.Equal(t, first.Checks, second.Checks)
	assert.Equal(t, first.Trail, second.Trail)
}

func TestAdmissionGate_NilSizingRejects(t *testing.T) {
	gate := NewAdmissionGate(DefaultAdmissionConfig())
	got := gate.Evaluate("BTCUSDT", trading.Long, nil, admissionFixture{opportunity: 99}.scores())
	assert.False(t, got.Approved)
	assert.Contains(t, got.Trail.String(), "REJECTED")
}

func TestAdmissionConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultAdmissionConfig().Validate())

	cfg := DefaultAdmissionConfig()
	cfg.HighVolatilityMinWinProbability = 70
	assert.ErrorContains(t, cfg.Validate(), "high_volatility_min_win_probability")

	cfg = DefaultAdmissionConfig()
	cfg.ExtremeSentimentMinRiskReward = 5
	assert.Error(t, cfg.Validate())
}
