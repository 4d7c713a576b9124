package analyzers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// ErrNoSignal is returned by an analyzer that ran successfully but has
// nothing to say about the symbol.
var ErrNoSignal = errors.New("analyzer produced no signal")

// Analyzer produces one bounded score for a symbol from a candle window.
// Implementations must be safe for concurrent use across symbols.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error) {
	return f(ctx, symbol, candles)
}

// Registration binds an analyzer to its kind.
type Registration struct {
	Name      string
	Kind      trading.AnalyzerKind
	Analyzer  Analyzer
	Mandatory bool
	Timeout   time.Duration
}

// Registry is the ordered set of analyzers consulted for each decision.
type Registry struct {
	mu             sync.RWMutex
	entries        []Registration
	defaultTimeout time.Duration
}

// NewRegistry creates an empty registry. defaultTimeout applies to entries
// registered without their own timeout.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	return &Registry{defaultTimeout: defaultTimeout}
}

// Register adds an analyzer. A kind may be registered once.
func (r *Registry) Register(reg Registration) error {
	if reg.Analyzer == nil {
		return fmt.Errorf("analyzer %q has no implementation", reg.Name)
	}
	if reg.Kind == "" {
		return fmt.Errorf("analyzer %q has no kind", reg.Name)
	}
	if reg.Name == "" {
		reg.Name = string(reg.Kind)
	}
	if reg.Timeout <= 0 {
		reg.Timeout = r.defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.Kind == reg.Kind {
			return fmt.Errorf("analyzer kind %s already registered by %q", reg.Kind, existing.Name)
		}
	}
	r.entries = append(r.entries, reg)
	return nil
}

// SetMandatory marks the given kinds mandatory and all others optional.
func (r *Registry) SetMandatory(kinds []trading.AnalyzerKind) {
	set := make(map[trading.AnalyzerKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		r.entries[i].Mandatory = set[r.entries[i].Kind]
	}
}

// Entries returns a snapshot of the registrations.
func (r *Registry) Entries() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, len(r.entries))
	copy(out, r.entries)
	return out
}

// Failure records why an analyzer did not contribute.
type Failure struct {
	Name      string
	Kind      trading.AnalyzerKind
	Mandatory bool
	Err       error
}

// NoSignal reports whether the analyzer ran but had nothing to say.
func (f Failure) NoSignal() bool {
	return errors.Is(f.Err, ErrNoSignal)
}

// Results is the outcome of running the registry for one symbol.
type Results struct {
	Scores   trading.Scores
	Failures []Failure
}

// MissingMandatory lists mandatory kinds without a score.
func (r Results) MissingMandatory() []Failure {
	var missing []Failure
	for _, f := range r.Failures {
		if f.Mandatory {
			missing = append(missing, f)
		}
	}
	return missing
}

// Run calls every registered analyzer concurrently with its own timeout.
// Errors, timeouts, and nil scores all become Failures; they never abort
// the other analyzers.
func (r *Registry) Run(ctx context.Context, symbol string, candles []trading.Candle) Results {
	entries := r.Entries()
	type outcome struct {
		reg   Registration
		score *trading.AnalyzerScore
		err   error
	}

	outcomes := make([]outcome, len(entries))
	var wg sync.WaitGroup
	for i, reg := range entries {
		wg.Add(1)
		go func(i int, reg Registration) {
			defer wg.Done()
			score, err := invoke(ctx, reg, symbol, candles)
			outcomes[i] = outcome{reg: reg, score: score, err: err}
		}(i, reg)
	}
	wg.Wait()

	res := Results{Scores: make(trading.Scores, len(entries))}
	for _, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, Failure{Name: o.reg.Name, Kind: o.reg.Kind, Mandatory: o.reg.Mandatory, Err: o.err})
			ev := log.Warn()
			if errors.Is(o.err, ErrNoSignal) {
				ev = log.Debug()
			}
			ev.Err(o.err).
				Str("symbol", symbol).
				Str("analyzer", o.reg.Name).
				Bool("mandatory", o.reg.Mandatory).
				Msg("Analyzer did not contribute")
			continue
		}
		res.Scores[o.reg.Kind] = o.score
	}
	return res
}

func invoke(ctx context.Context, reg Registration, symbol string, candles []trading.Candle) (*trading.AnalyzerScore, error) {
	if reg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
	}

	type result struct {
		score *trading.AnalyzerScore
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		score, err := reg.Analyzer.Analyze(ctx, symbol, candles)
		done <- result{score: score, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("analyzer %s: %w", reg.Name, ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("analyzer %s: %w", reg.Name, res.err)
	}
	if res.score == nil {
		return nil, fmt.Errorf("analyzer %s: %w", reg.Name, ErrNoSignal)
	}
	res.score.Kind = reg.Kind
	if res.score.Symbol == "" {
		res.score.Symbol = symbol
	}
	return res.score, nil
}
