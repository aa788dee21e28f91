// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mkoppmann/backsched/internal/models"
)

// DefaultDatabasePath is used when no database path is configured.
const DefaultDatabasePath = "backsched.db"

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	cfg.DatabasePath = p.expandEnv(p.v.GetString("database"))
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}

	cfg.Estimator = models.EstimatorConfig{
		Alpha: p.v.GetFloat64("estimator.alpha"),
	}
	if p.v.IsSet("estimator.alpha") {
		if cfg.Estimator.Alpha <= 0 || cfg.Estimator.Alpha >= 1 {
			return nil, fmt.Errorf("estimator.alpha must be between 0 and 1 exclusive")
		}
	}

	raw, ok := p.v.Get("targets").([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}

	seen := make(map[string]bool, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("targets[%d]: expected a mapping", i)
		}
		sub := viper.New()
		if err := sub.MergeConfigMap(m); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}

		tc, err := p.parseTarget(sub)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if seen[tc.Name] {
			return nil, fmt.Errorf("duplicate target name %q", tc.Name)
		}
		seen[tc.Name] = true
		cfg.Targets = append(cfg.Targets, *tc)
	}

	return cfg, nil
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parseTarget(v *viper.Viper) (*models.TargetConfig, error) {
	tc := &models.TargetConfig{
		Name:            v.GetString("name"),
		ArchiveDir:      p.expandEnv(v.GetString("archive_dir")),
		DefaultDuration: v.GetDuration("default_duration"),
		Intervals: models.IntervalConfig{
			Full: v.GetDuration("intervals.full"),
			Diff: v.GetDuration("intervals.diff"),
			Incr: v.GetDuration("intervals.incr"),
		},
	}

	if tc.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if tc.ArchiveDir == "" {
		return nil, fmt.Errorf("archive_dir is required")
	}

	// An interval of zero disables a level; a negative one is always a
	// mistake.
	for _, level := range models.Levels {
		if tc.Intervals.IntervalFor(level) < 0 {
			return nil, fmt.Errorf("intervals.%s must not be negative", level.Suffix())
		}
	}
	if tc.Intervals.Full == 0 && tc.Intervals.Diff == 0 && tc.Intervals.Incr == 0 {
		return nil, fmt.Errorf("at least one interval must be set")
	}
	if tc.DefaultDuration < 0 {
		return nil, fmt.Errorf("default_duration must not be negative")
	}

	tc.Archiver = models.ArchiverConfig{
		Command: p.expandEnv(v.GetString("archiver.command")),
		Options: v.GetStringSlice("archiver.options"),
	}

	// Parse optional wake config.
	if v.IsSet("wake") {
		tc.Wake = &models.WakeConfig{
			MACAddress:    v.GetString("wake.mac_address"),
			BroadcastIP:   v.GetString("wake.broadcast_ip"),
			PollURL:       v.GetString("wake.poll_url"),
			Timeout:       v.GetDuration("wake.timeout"),
			PollInterval:  v.GetDuration("wake.poll_interval"),
			StabilizeWait: v.GetDuration("wake.stabilize_wait"),
		}

		if tc.Wake.MACAddress == "" {
			return nil, fmt.Errorf("wake.mac_address is required when wake is configured")
		}

		// Set defaults.
		if tc.Wake.BroadcastIP == "" {
			tc.Wake.BroadcastIP = "255.255.255.255"
		}
		if tc.Wake.Timeout == 0 {
			tc.Wake.Timeout = 5 * time.Minute
		}
		if tc.Wake.PollInterval == 0 {
			tc.Wake.PollInterval = 10 * time.Second
		}
		if tc.Wake.StabilizeWait == 0 {
			tc.Wake.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional hooks config.
	if v.IsSet("hooks") { //nolint:nestif // config parsing with defaults
		tc.Hooks = &models.HookConfig{
			PreRun:  v.GetString("hooks.pre_run"),
			PostRun: v.GetString("hooks.post_run"),
		}

		if tc.Hooks.PreRun == "" && tc.Hooks.PostRun == "" {
			return nil, fmt.Errorf("hooks requires pre_run or post_run")
		}

		if v.IsSet("hooks.ssh") {
			tc.Hooks.SSH = &models.SSHConfig{
				Host:     v.GetString("hooks.ssh.host"),
				Port:     v.GetInt("hooks.ssh.port"),
				Username: v.GetString("hooks.ssh.username"),
				KeyPath:  p.expandEnv(v.GetString("hooks.ssh.key_path")),
			}

			if tc.Hooks.SSH.Host == "" {
				return nil, fmt.Errorf("hooks.ssh.host is required when hooks.ssh is configured")
			}
			if tc.Hooks.SSH.KeyPath == "" {
				return nil, fmt.Errorf("hooks.ssh.key_path is required when hooks.ssh is configured")
			}
			if tc.Hooks.SSH.Port == 0 {
				tc.Hooks.SSH.Port = 22
			}
			if tc.Hooks.SSH.Username == "" {
				tc.Hooks.SSH.Username = "root"
			}
		}
	}

	// Parse optional Telegram config.
	if v.IsSet("telegram") {
		tc.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(v.GetString("telegram.chat_id")),
		}

		if tc.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if tc.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return tc, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on an already loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if len(cfg.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	for _, tc := range cfg.Targets {
		if tc.Name == "" {
			return fmt.Errorf("target name is required")
		}
		if tc.ArchiveDir == "" {
			return fmt.Errorf("target %q: archive_dir is required", tc.Name)
		}
		for _, level := range models.Levels {
			if tc.Intervals.IntervalFor(level) < 0 {
				return fmt.Errorf("target %q: intervals.%s must not be negative", tc.Name, level.Suffix())
			}
		}
	}

	return nil
}
