package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run as a long-lived scheduler",
	Long: `Run the evaluate-act cycle continuously: wake up shortly before the
earliest latest-safe-start across all targets, run whatever is due, and go
back to sleep. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("targets", len(cfg.Targets)).
		Msg("scheduler starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, st, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := r.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scheduler stopped with error")
		return err
	}

	log.Info().Msg("scheduler stopped")
	return nil
}
