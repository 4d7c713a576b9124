package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptotrader/internal/config"
	httpapi "github.com/sawpanic/cryptotrader/internal/interfaces/http"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var httpAddr string
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration loop against the configured venue",
		Long: `Run scans the universe every interval, decides and admits entries,
executes them, and manages live orders until interrupted. The operator
HTTP surface, Postgres order journal and Redis decision mirror start when
enabled in settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(opts)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				s.HTTP.Enabled = true
				s.HTTP.Addr = httpAddr
			}
			return runLoop(cmd.Context(), s, once)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "enable the operator HTTP surface on this address")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func runLoop(parent context.Context, s *config.Settings, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopProfiling, err := startProfiling(s.Profiling)
	if err != nil {
		return err
	}
	defer stopProfiling()

	a, err := newApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	if a.mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.mirror.Run(ctx)
		}()
	}

	errCh := make(chan error, 1)
	if s.HTTP.Enabled {
		deps := httpapi.Deps{
			Decisions:  a.aggregator.Cache(),
			Orders:     a.executor,
			Liquidator: a.loop,
			Cycles:     a.loop,
			Metrics:    a.metrics.Handler(),
			Events:     a.bus,
			Version:    version,
		}
		if a.journal != nil {
			deps.History = a.journal
		}
		server := httpapi.NewServer(s.HTTP, deps)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- err
				stop()
			}
		}()
	}

	log.Info().
		Strs("universe", s.Scan.Universe).
		Dur("interval", s.Orchestrator.Interval).
		Int("daily_trade_target", s.Orchestrator.DailyTradeTarget).
		Msg("Starting trading loop")

	if once {
		report, cycleErr := a.loop.RunCycle(ctx)
		stop()
		wg.Wait()
		if cycleErr != nil {
			return cycleErr
		}
		return printJSON(report)
	}

	err = a.loop.Run(ctx)
	stop()
	wg.Wait()

	select {
	case serverErr := <-errCh:
		return serverErr
	default:
	}
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Trading loop stopped")
		return nil
	}
	return err
}

func newDecideCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decide SYMBOL",
		Short: "Produce one trading decision for a symbol and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, s)
			if err != nil {
				return err
			}
			defer a.Close()

			available := a.loop.SyncCapital(ctx)
			log.Debug().Float64("available", available).Msg("Capital synced")

			symbol := strings.ToUpper(args[0])
			candles, err := a.scanner.Window(ctx, symbol)
			if err != nil {
				return fmt.Errorf("fetch window for %s: %w", symbol, err)
			}
			return printJSON(a.aggregator.Decide(ctx, symbol, candles))
		},
	}
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadSettings(opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "settings OK")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print effective settings as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(opts)
			if err != nil {
				return err
			}
			out, err := s.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "env",
		Short: "List supported environment overrides",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.EnvNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
