// Package config assembles the per-component settings into one document
// loaded from YAML with CRYPTOTRADER_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptotrader/internal/analyzers/momentum"
	"github.com/sawpanic/cryptotrader/internal/analyzers/technical"
	"github.com/sawpanic/cryptotrader/internal/decision"
	"github.com/sawpanic/cryptotrader/internal/exchange"
	"github.com/sawpanic/cryptotrader/internal/exchange/paper"
	"github.com/sawpanic/cryptotrader/internal/execution"
	"github.com/sawpanic/cryptotrader/internal/gates"
	httpapi "github.com/sawpanic/cryptotrader/internal/interfaces/http"
	"github.com/sawpanic/cryptotrader/internal/orchestrator"
	"github.com/sawpanic/cryptotrader/internal/persistence/postgres"
	"github.com/sawpanic/cryptotrader/internal/risk"
	"github.com/sawpanic/cryptotrader/internal/scan"
)

// Settings is the complete runtime configuration.
type Settings struct {
	Analyzers    AnalyzersConfig       `yaml:"analyzers"`
	Decision     decision.Config       `yaml:"decision"`
	Risk         risk.Config           `yaml:"risk"`
	Admission    gates.AdmissionConfig `yaml:"admission"`
	Execution    execution.Config      `yaml:"execution"`
	Orchestrator orchestrator.Config   `yaml:"orchestrator"`
	Scan         scan.Config           `yaml:"scan"`
	Exchange     ExchangeConfig        `yaml:"exchange"`
	Mirror       decision.MirrorConfig `yaml:"mirror"`
	Journal      postgres.Config       `yaml:"journal"`
	HTTP         httpapi.ServerConfig  `yaml:"http"`
	Events       EventsConfig          `yaml:"events"`
	Profiling    ProfilingConfig       `yaml:"profiling"`
}

// AnalyzersConfig configures the reference analyzers and their registry.
type AnalyzersConfig struct {
	Timeout   time.Duration    `yaml:"timeout"`
	Technical technical.Config `yaml:"technical"`
	Momentum  momentum.Config  `yaml:"momentum"`
}

// ExchangeConfig configures the venue adapter and its resilience wrapper.
type ExchangeConfig struct {
	Paper      paper.Config              `yaml:"paper"`
	Resilience exchange.ResilienceConfig `yaml:"resilience"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
	AppName       string `yaml:"app_name"`
}

// Default returns settings that run the paper venue with every optional
// integration disabled.
func Default() *Settings {
	return &Settings{
		Analyzers: AnalyzersConfig{
			Timeout:   10 * time.Second,
			Technical: technical.DefaultConfig(),
			Momentum:  momentum.DefaultConfig(),
		},
		Decision:     decision.DefaultConfig(),
		Risk:         risk.DefaultConfig(),
		Admission:    gates.DefaultAdmissionConfig(),
		Execution:    execution.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Scan:         scan.DefaultConfig(),
		Exchange: ExchangeConfig{
			Paper:      paper.DefaultConfig(),
			Resilience: exchange.DefaultResilienceConfig(),
		},
		Mirror:  decision.DefaultMirrorConfig(),
		Journal: postgres.DefaultConfig(),
		HTTP:    httpapi.DefaultServerConfig(),
		Events:  EventsConfig{Buffer: 256},
		Profiling: ProfilingConfig{
			AppName: "cryptotrader",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := s.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// decode rejects unknown keys so typos do not silently fall back to
// defaults.
func (s *Settings) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// YAML renders the settings for `config show`.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

type validator interface {
	Validate() error
}

// Validate checks every section, then the constraints that span sections.
func (s *Settings) Validate() error {
	sections := []struct {
		name string
		v    validator
	}{
		{"decision", s.Decision},
		{"risk", s.Risk},
		{"admission", s.Admission},
		{"execution", s.Execution},
		{"orchestrator", s.Orchestrator},
		{"scan", s.Scan},
		{"exchange.paper", s.Exchange.Paper},
		{"exchange.resilience", s.Exchange.Resilience},
		{"mirror", s.Mirror},
		{"journal", s.Journal},
		{"http", s.HTTP},
	}
	for _, sec := range sections {
		if err := sec.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", sec.name, err)
		}
	}

	if s.Analyzers.Timeout <= 0 {
		return fmt.Errorf("analyzers: timeout must be positive, got %s", s.Analyzers.Timeout)
	}
	if s.Analyzers.Momentum.ShortWindow < 1 || s.Analyzers.Momentum.LongWindow <= s.Analyzers.Momentum.ShortWindow {
		return fmt.Errorf("analyzers.momentum: need 1 <= short_window < long_window, got %d and %d",
			s.Analyzers.Momentum.ShortWindow, s.Analyzers.Momentum.LongWindow)
	}
	if need := s.Analyzers.Technical.MinCandles(); s.Scan.Window < need {
		return fmt.Errorf("scan: window %d is shorter than the %d candles the technical analyzer needs", s.Scan.Window, need)
	}
	if s.Scan.Window <= s.Analyzers.Momentum.LongWindow {
		return fmt.Errorf("scan: window %d must exceed momentum long_window %d", s.Scan.Window, s.Analyzers.Momentum.LongWindow)
	}
	if s.Orchestrator.Coin != s.Exchange.Paper.Coin {
		return fmt.Errorf("orchestrator: coin %q does not match exchange.paper coin %q", s.Orchestrator.Coin, s.Exchange.Paper.Coin)
	}
	if s.Events.Buffer < 1 {
		return fmt.Errorf("events: buffer must be >= 1, got %d", s.Events.Buffer)
	}
	if s.Profiling.Enabled && s.Profiling.ServerAddress == "" {
		return errors.New("profiling: server_address is required when profiling is enabled")
	}
	return nil
}
