//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/mkoppmann/backsched/internal/services/notify"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestNotifySendSuccessReport_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := notify.New(testLogger())

	msg := models.TelegramMessage{
		Success:     true,
		Target:      "e2e-test-target",
		Level:       models.LevelIncr,
		StartTime:   time.Now().Add(-5 * time.Minute),
		Duration:    5 * time.Minute,
		ArchiveName: "2024-06-15_1200-incr",
	}

	result, err := svc.SendRunReport(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestNotifySendFailureReport_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := notify.New(testLogger())

	msg := models.TelegramMessage{
		Success:      false,
		Target:       "e2e-test-target",
		Level:        models.LevelFull,
		StartTime:    time.Now().Add(-2 * time.Minute),
		Duration:     2 * time.Minute,
		Overdue:      90 * time.Minute,
		FailedStep:   "archiver",
		ErrorMessage: "archive directory not writable",
	}

	result, err := svc.SendRunReport(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestNotifySendAlert_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := notify.New(testLogger())

	result, err := svc.SendAlert(context.Background(), cfg, "e2e test alert, ignore")

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}
