package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRYPTOTRADER_"

type override struct {
	name  string
	apply func(s *Settings, value string) error
}

func durationVar(dst func(*Settings) *time.Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(s) = d
		return nil
	}
}

func intVar(dst func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(s) = n
		return nil
	}
}

func floatVar(dst func(*Settings) *float64) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(s) = f
		return nil
	}
}

func boolVar(dst func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(s) = b
		return nil
	}
}

func stringVar(dst func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		*dst(s) = v
		return nil
	}
}

var overrides = []override{
	{"ORCHESTRATOR_INTERVAL", durationVar(func(s *Settings) *time.Duration { return &s.Orchestrator.Interval })},
	{"COOLDOWN", durationVar(func(s *Settings) *time.Duration { return &s.Orchestrator.Cooldown })},
	{"DAILY_TRADE_TARGET", intVar(func(s *Settings) *int { return &s.Orchestrator.DailyTradeTarget })},
	{"BATCH_SIZE", intVar(func(s *Settings) *int { return &s.Orchestrator.BatchSize })},
	{"MAX_ACTIVE", intVar(func(s *Settings) *int { return &s.Execution.MaxActive })},
	{"UNIVERSE", func(s *Settings, v string) error {
		var symbols []string
		for _, sym := range strings.Split(v, ",") {
			if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
				symbols = append(symbols, sym)
			}
		}
		if len(symbols) == 0 {
			return fmt.Errorf("no symbols in %q", v)
		}
		s.Scan.Universe = symbols
		return nil
	}},
	{"PAPER_INITIAL_BALANCE", floatVar(func(s *Settings) *float64 { return &s.Exchange.Paper.InitialBalance })},
	{"PAPER_SEED", func(s *Settings, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		s.Exchange.Paper.Seed = n
		return nil
	}},
	{"PG_ENABLED", boolVar(func(s *Settings) *bool { return &s.Journal.Enabled })},
	{"PG_DSN", stringVar(func(s *Settings) *string { return &s.Journal.DSN })},
	{"REDIS_ENABLED", boolVar(func(s *Settings) *bool { return &s.Mirror.Enabled })},
	{"REDIS_ADDR", stringVar(func(s *Settings) *string { return &s.Mirror.Addr })},
	{"REDIS_PASSWORD", stringVar(func(s *Settings) *string { return &s.Mirror.Password })},
	{"HTTP_ENABLED", boolVar(func(s *Settings) *bool { return &s.HTTP.Enabled })},
	{"HTTP_ADDR", stringVar(func(s *Settings) *string { return &s.HTTP.Addr })},
	{"PYROSCOPE_ADDR", func(s *Settings, v string) error {
		s.Profiling.ServerAddress = v
		s.Profiling.Enabled = v != ""
		return nil
	}},
}

// ApplyEnv overlays CRYPTOTRADER_* variables found through lookup.
// Unset variables leave the current value alone.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		name := EnvPrefix + o.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := o.apply(s, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// EnvNames lists the supported override variables.
func EnvNames() []string {
	names := make([]string, len(overrides))
	for i, o := range overrides {
		names[i] = EnvPrefix + o.name
	}
	return names
}
