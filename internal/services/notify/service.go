// Package notify delivers run reports and alerts via Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkoppmann/backsched/internal/models"
)

// Service defines the interface for notifications.
type Service interface {
	SendRunReport(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
	SendAlert(ctx context.Context, cfg models.TelegramConfig, text string) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the notify Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new notify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		baseURL:    "https://api.telegram.org",
	}
}

// NewWithClient creates a new notify service with a custom HTTP client (for
// testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for the Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendRunReport notifies about one finished backup run.
func (s *Impl) SendRunReport(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	s.logger.Info().
		Str("target", msg.Target).
		Bool("success", msg.Success).
		Msg("sending run report")
	return s.send(ctx, cfg, s.formatRunReport(msg))
}

// SendAlert sends a free-form alert, e.g. an overdue or misconfiguration
// notice.
func (s *Impl) SendAlert(ctx context.Context, cfg models.TelegramConfig, text string) (*models.TelegramResult, error) {
	return s.send(ctx, cfg, fmt.Sprintf("⚠️ <b>backsched</b>\n\n%s", escapeHTML(text)))
}

func (s *Impl) send(ctx context.Context, cfg models.TelegramConfig, text string) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("marshalling request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("creating request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("sending request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	return result, nil
}

func (s *Impl) formatRunReport(msg models.TelegramMessage) string {
	var b bytes.Buffer

	if msg.Success {
		b.WriteString("✅ <b>Backup Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Backup Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("🎯 <b>Target:</b> %s\n", escapeHTML(msg.Target)))
	b.WriteString(fmt.Sprintf("📚 <b>Level:</b> %s\n", msg.Level))
	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second)))

	if msg.Overdue > 0 {
		b.WriteString(fmt.Sprintf("🐌 <b>Started late by:</b> %s\n", msg.Overdue.Round(time.Minute)))
	}

	if msg.Success {
		b.WriteString(fmt.Sprintf("\n📦 <b>Archive:</b> <code>%s</code>\n", escapeHTML(msg.ArchiveName)))
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		b.WriteString(fmt.Sprintf("  • Failed step: %s\n", escapeHTML(msg.FailedStep)))
		b.WriteString(fmt.Sprintf("  • Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage)))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
