package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryptotrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_SampleFile(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "configs", "cryptotrader.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int64(42), s.Exchange.Paper.Seed)
	assert.Equal(t, time.Minute, s.Orchestrator.Interval)
	assert.True(t, s.HTTP.Enabled)
	assert.Len(t, s.Scan.Universe, 5)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  cooldown: 30m
scan:
  universe: [BTCUSDT]
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, s.Orchestrator.Cooldown)
	assert.Equal(t, []string{"BTCUSDT"}, s.Scan.Universe)
	assert.Equal(t, 6, s.Orchestrator.DailyTradeTarget, "untouched keys keep defaults")
	assert.Equal(t, Default().Risk.MinRiskReward, s.Risk.MinRiskReward)
}

func TestLoad_EmptyFile(t *testing.T) {
	s, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Orchestrator, s.Orchestrator)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "orchestrator:\n  cooldwon: 1h\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldwon")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidSectionIsNamed(t *testing.T) {
	_, err := Load(writeConfig(t, "execution:\n  max_active: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution:")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: 127.0.0.1:9000\n")
	t.Setenv("CRYPTOTRADER_HTTP_ADDR", "127.0.0.1:9100")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", s.HTTP.Addr)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CRYPTOTRADER_COOLDOWN":           "90m",
		"CRYPTOTRADER_DAILY_TRADE_TARGET": "4",
		"CRYPTOTRADER_UNIVERSE":           " btcusdt, ethusdt ,,",
		"CRYPTOTRADER_PAPER_SEED":         "7",
		"CRYPTOTRADER_PG_ENABLED":         "true",
		"CRYPTOTRADER_PG_DSN":             "postgres://localhost/ct",
		"CRYPTOTRADER_PYROSCOPE_ADDR":     "http://localhost:4040",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	s := Default()
	require.NoError(t, s.ApplyEnv(lookup))

	assert.Equal(t, 90*time.Minute, s.Orchestrator.Cooldown)
	assert.Equal(t, 4, s.Orchestrator.DailyTradeTarget)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, s.Scan.Universe)
	assert.Equal(t, int64(7), s.Exchange.Paper.Seed)
	assert.True(t, s.Journal.Enabled)
	assert.Equal(t, "postgres://localhost/ct", s.Journal.DSN)
	assert.True(t, s.Profiling.Enabled)
	assert.Equal(t, Default().Execution, s.Execution, "unset variables change nothing")
	require.NoError(t, s.Validate())
}

func TestApplyEnv_ParseErrorNamesVariable(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "CRYPTOTRADER_MAX_ACTIVE" {
			return "three", true
		}
		return "", false
	}
	err := Default().ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRYPTOTRADER_MAX_ACTIVE")
}

func TestApplyEnv_EmptyUniverse(t *testing.T) {
	lookup := func(k string) (string, bool) { return " , ", k == "CRYPTOTRADER_UNIVERSE" }
	assert.Error(t, Default().ApplyEnv(lookup))
}

func TestValidate_CrossSection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"scan window below indicator needs", func(s *Settings) { s.Scan.Window = 30 }, "technical analyzer"},
		{"scan window below momentum", func(s *Settings) {
			s.Analyzers.Momentum.LongWindow = 300
		}, "momentum long_window"},
		{"coin mismatch", func(s *Settings) { s.Orchestrator.Coin = "USDC" }, "does not match"},
		{"momentum windows inverted", func(s *Settings) {
			s.Analyzers.Momentum.ShortWindow = 30
		}, "short_window"},
		{"analyzer timeout", func(s *Settings) { s.Analyzers.Timeout = 0 }, "analyzers: timeout"},
		{"event buffer", func(s *Settings) { s.Events.Buffer = 0 }, "events"},
		{"profiling without address", func(s *Settings) { s.Profiling.Enabled = true }, "profiling"},
		{"journal without dsn", func(s *Settings) { s.Journal.Enabled = true }, "journal:"},
		{"mirror without addr", func(s *Settings) {
			s.Mirror.Enabled = true
			s.Mirror.Addr = ""
		}, "mirror:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	s := Default()
	s.Orchestrator.Cooldown = 45 * time.Minute

	out, err := s.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "cooldown: 45m0s")

	loaded, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, loaded.Orchestrator.Cooldown)
	assert.Equal(t, s.Risk, loaded.Risk)
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	assert.Contains(t, names, "CRYPTOTRADER_PG_DSN")
	for _, n := range names {
		assert.Contains(t, n, EnvPrefix)
	}
}
