package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var forceTarget string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate all targets and run the due backups",
	Long: `Evaluate every configured target and, for each one with a due level,
execute one backup run:
1. Wake-on-LAN (if configured)
2. Pre-run hook (if configured)
3. Archiver invocation at the due level
4. Record the outcome
5. Post-run hook (if configured)
6. Send Telegram notification (if configured)

With --force, run the named target immediately even if nothing is due.`,
	RunE: runBackups,
}

func init() {
	runCmd.Flags().StringVar(&forceTarget, "force", "", "run this target now even if nothing is due")
}

func runBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("targets", len(cfg.Targets)).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	r, st, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if forceTarget != "" {
		if err := r.ForceRun(ctx, forceTarget); err != nil {
			log.Error().Err(err).Str("target", forceTarget).Msg("forced run failed")
			return err
		}
		log.Info().Str("target", forceTarget).Msg("forced run completed")
		return nil
	}

	n, err := r.RunDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backup sweep finished with errors")
		return err
	}
	if n == 0 {
		log.Info().Msg("nothing due")
		return nil
	}

	log.Info().Int("runs", n).Msg("backup sweep completed")
	return nil
}
