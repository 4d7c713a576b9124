package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/cryptotrader/internal/config"
)

const appName = "cryptotrader"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalOptions struct {
	configPath    string
	envFile       string
	logLevel      string
	jsonLogs      bool
	pyroscopeAddr string
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "settings file (YAML); defaults apply when empty")
	fs.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before settings; missing file is ignored")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "force JSON logs even on a terminal")
	fs.StringVar(&o.pyroscopeAddr, "pyroscope-addr", "", "pyroscope server address; enables continuous profiling")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Automated leveraged-futures trading controller",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `cryptotrader scans a symbol universe, aggregates analyzer signals into
trading decisions, sizes and admits trades, and drives their orders on
the exchange through a timed orchestration loop.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts)
		},
	}
	opts.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCmd(opts), newDecideCmd(opts), newConfigCmd(opts))
	return rootCmd
}

func setupLogging(opts *globalOptions) error {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(opts.logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", opts.logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if !opts.jsonLogs && term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("app", appName).Logger()
	}
	return nil
}

// loadSettings reads the dotenv file, then the settings file with its
// environment overrides. Flags win over both.
func loadSettings(opts *globalOptions) (*config.Settings, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", opts.envFile).Msg("Failed to load env file")
		}
	}
	s, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.pyroscopeAddr != "" {
		s.Profiling.Enabled = true
		s.Profiling.ServerAddress = opts.pyroscopeAddr
	}
	return s, nil
}

// startProfiling starts the pyroscope agent when enabled. The returned
// func stops it.
func startProfiling(cfg config.ProfilingConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            map[string]string{"version": version},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start failed: %w", err)
	}
	log.Info().Str("server", cfg.ServerAddress).Msg("Continuous profiling enabled")
	return func() { _ = profiler.Stop() }, nil
}
