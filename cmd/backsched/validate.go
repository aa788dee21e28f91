package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mkoppmann/backsched/internal/config"
	"github.com/mkoppmann/backsched/internal/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without running any backups.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Printf("Database: %s\n", cfg.DatabasePath)
	if cfg.Estimator.Alpha > 0 {
		fmt.Printf("Estimator alpha: %.2f\n", cfg.Estimator.Alpha)
	}

	for _, tc := range cfg.Targets {
		fmt.Println()
		fmt.Printf("Target: %s\n", tc.Name)
		fmt.Printf("  Archive dir: %s\n", tc.ArchiveDir)
		for _, level := range models.Levels {
			if iv := tc.Intervals.IntervalFor(level); iv > 0 {
				fmt.Printf("  Interval %s: %s\n", level, iv)
			} else {
				fmt.Printf("  Interval %s: disabled\n", level)
			}
		}
		if tc.DefaultDuration > 0 {
			fmt.Printf("  Default duration: %s\n", tc.DefaultDuration)
		}
		if tc.Archiver.Command != "" {
			fmt.Printf("  Archiver: %s %v\n", tc.Archiver.Command, tc.Archiver.Options)
		}
		fmt.Println("  Optional features:")
		fmt.Printf("    Wake-on-LAN: %v\n", tc.Wake != nil)
		fmt.Printf("    Hooks: %v\n", tc.Hooks != nil)
		fmt.Printf("    Telegram: %v\n", tc.Telegram != nil)

		if tc.Wake != nil {
			fmt.Printf("  Wake: mac=%s broadcast=%s\n", tc.Wake.MACAddress, tc.Wake.BroadcastIP)
		}
		if tc.Hooks != nil && tc.Hooks.SSH != nil {
			fmt.Printf("  Hooks over SSH: %s@%s:%d\n",
				tc.Hooks.SSH.Username, tc.Hooks.SSH.Host, tc.Hooks.SSH.Port)
		}
		if tc.Telegram != nil {
			fmt.Printf("  Telegram chat: %s (token configured)\n", tc.Telegram.ChatID)
		}
	}

	return nil
}
