package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	for k, v := range labels {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.RecordDecision("enter_long")
	r.RecordDecision("enter_long")
	r.RecordAdmission(false, "risk_reward")
	r.RecordAdmission(true, "")
	r.RecordOrder("New")
	r.RecordExchangeCall("place_order", "success")
	r.SetLivePositions(2)
	r.RecordRealizedPnL(-3.5)

	assert.Equal(t, 2.0, counterValue(t, r, "cryptotrader_decisions_total", map[string]string{"kind": "enter_long"}))
	assert.Equal(t, 1.0, counterValue(t, r, "cryptotrader_admissions_total", map[string]string{"result": "rejected", "check": "risk_reward"}))
	assert.Equal(t, 1.0, counterValue(t, r, "cryptotrader_admissions_total", map[string]string{"result": "approved"}))
	assert.Equal(t, 1.0, counterValue(t, r, "cryptotrader_orders_total", map[string]string{"status": "New"}))
	assert.Equal(t, 2.0, counterValue(t, r, "cryptotrader_live_positions", nil))
	assert.Equal(t, 3.5, counterValue(t, r, "cryptotrader_realized_pnl_abs_total", nil))
}

func TestRegistry_NilIsSafe(t *testing.T) {
	var r *Registry
	r.RecordDecision("hold")
	r.RecordOrder("Filled")
	r.SetTradesToday(3)
	r.StartStepTimer("cycle").Stop("ok")
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordCycle()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cryptotrader_cycles_total 1"))
}

func TestStepTimer_Observes(t *testing.T) {
	r := NewRegistry()
	r.StartStepTimer("decide").Stop("ok")

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var count uint64
	for _, mf := range families {
		if mf.GetName() == "cryptotrader_step_duration_seconds" {
			count = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(1), count)
}
