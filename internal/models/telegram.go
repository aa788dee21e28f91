package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run-outcome notification.
type TelegramMessage struct {
	Success   bool
	Target    string
	Level     BackupLevel
	StartTime time.Time
	Duration  time.Duration

	// Run details (if successful).
	ArchiveName string

	// Scheduling context.
	Overdue time.Duration // how far past the latest safe start the run began; zero if on time

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
