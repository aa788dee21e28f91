package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mkoppmann/backsched/internal/config"
	"github.com/mkoppmann/backsched/internal/models"
	"github.com/mkoppmann/backsched/internal/services/runner"
	"github.com/mkoppmann/backsched/internal/store"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "backsched",
	Short: "An interval-driven backup scheduler for full, diff and incr archives",
	Long: `backsched decides when each backup target is due at which level and
runs the archiver accordingly:
  - Full, differential and incremental levels with per-level intervals
  - Run durations estimated from history to compute safe start deadlines
  - Wake-on-LAN for sleeping backup clients
  - Pre/post hooks, locally or over SSH
  - Telegram notifications

Run one-shot with "run", or as a long-running scheduler with "daemon".`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*models.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}
	return cfg, nil
}

// newRunner builds a runner from the configuration; the caller must close
// the returned store.
func newRunner(cfg *models.Config) (*runner.Impl, *store.Store, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open run database")
		return nil, nil, err
	}

	r, err := runner.New(log.Logger, *cfg, st)
	if err != nil {
		_ = st.Close()
		log.Error().Err(err).Msg("failed to initialize scheduler")
		return nil, nil, err
	}
	return r, st, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
