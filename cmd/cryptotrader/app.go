package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/analyzers/momentum"
	"github.com/sawpanic/cryptotrader/internal/analyzers/technical"
	"github.com/sawpanic/cryptotrader/internal/config"
	"github.com/sawpanic/cryptotrader/internal/decision"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/events"
	"github.com/sawpanic/cryptotrader/internal/exchange"
	"github.com/sawpanic/cryptotrader/internal/exchange/paper"
	"github.com/sawpanic/cryptotrader/internal/execution"
	"github.com/sawpanic/cryptotrader/internal/gates"
	"github.com/sawpanic/cryptotrader/internal/metrics"
	"github.com/sawpanic/cryptotrader/internal/orchestrator"
	"github.com/sawpanic/cryptotrader/internal/persistence/postgres"
	"github.com/sawpanic/cryptotrader/internal/risk"
	"github.com/sawpanic/cryptotrader/internal/scan"
)

// app is the wired trading core.
type app struct {
	settings   *config.Settings
	metrics    *metrics.Registry
	venue      *exchange.Resilient
	ledger     *risk.Ledger
	bus        *events.Bus
	aggregator *decision.Aggregator
	executor   *execution.Executor
	scanner    *scan.UniverseScanner
	loop       *orchestrator.Orchestrator
	mirror     *decision.RedisMirror
	journal    *postgres.OrderJournal

	closers []func()
}

// newApp wires every component from settings. Optional integrations that
// fail to connect abort startup.
func newApp(ctx context.Context, s *config.Settings) (*app, error) {
	a := &app{
		settings: s,
		metrics:  metrics.NewRegistry(),
		bus:      events.NewBus(s.Events.Buffer),
	}

	a.venue = exchange.NewResilient(paper.New(s.Exchange.Paper), s.Exchange.Resilience, a.metrics)
	a.ledger = risk.NewLedger(0)

	registry := analyzers.NewRegistry(s.Analyzers.Timeout)
	for _, reg := range []analyzers.Registration{
		{Name: "technical", Kind: trading.KindMarket, Analyzer: technical.NewAnalyzer(s.Analyzers.Technical)},
		{Name: "momentum", Kind: trading.KindSentiment, Analyzer: momentum.NewAnalyzer(s.Analyzers.Momentum)},
	} {
		if err := registry.Register(reg); err != nil {
			return nil, fmt.Errorf("register analyzer: %w", err)
		}
	}
	registry.SetMandatory(s.Decision.MandatoryAnalyzers)

	sinks := events.Multi{events.LogSink{Level: zerolog.DebugLevel}, a.bus}
	if s.Mirror.Enabled {
		client, err := decision.NewRedisClient(ctx, s.Mirror)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { closeRedis(client) })
		a.mirror = decision.NewRedisMirror(client, s.Mirror)
		sinks = append(sinks, a.mirror)
		log.Info().Str("addr", s.Mirror.Addr).Msg("Decision mirror enabled")
	}

	a.aggregator = decision.NewAggregator(s.Decision, registry,
		risk.NewEngine(s.Risk, a.ledger),
		gates.NewAdmissionGate(s.Admission),
		decision.WithPublisher(sinks),
		decision.WithMetrics(a.metrics))

	execOpts := []execution.Option{execution.WithPublisher(sinks), execution.WithMetrics(a.metrics)}
	if s.Journal.Enabled {
		db, err := postgres.Open(ctx, s.Journal)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { closeDB(db) })
		a.journal = postgres.NewOrderJournal(db, s.Journal.QueryTimeout)
		if err := a.journal.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		execOpts = append(execOpts, execution.WithJournal(a.journal))
		log.Info().Msg("Order journal enabled")
	}
	a.executor = execution.NewExecutor(s.Execution, a.venue, execOpts...)

	a.scanner = scan.NewUniverseScanner(s.Scan, a.venue)
	a.loop = orchestrator.New(s.Orchestrator, a.scanner, a.aggregator, a.executor, a.venue, a.ledger, a.metrics)
	return a, nil
}

// Close releases external connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeRedis(c *redis.Client) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close redis client")
	}
}

func closeDB(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
