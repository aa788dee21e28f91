package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoppmann/backsched/internal/models"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func TestSendRunReport_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
			}, nil
		},
	}
	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:     true,
		Target:      "workstation",
		Level:       models.LevelDiff,
		StartTime:   time.Now().Add(-30 * time.Minute),
		Duration:    30 * time.Minute,
		ArchiveName: "2024-03-01_2100-diff",
	}

	result, err := svc.SendRunReport(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.NoError(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Contains(t, capturedBody.Text, "Backup Successful")
	assert.Contains(t, capturedBody.Text, "workstation")
	assert.Contains(t, capturedBody.Text, "diff")
	assert.Contains(t, capturedBody.Text, "2024-03-01_2100-diff")
}

func TestSendRunReport_Failure(t *testing.T) {
	var capturedBody sendMessageRequest
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
		},
	}
	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:      false,
		Target:       "server",
		Level:        models.LevelFull,
		FailedStep:   "archiver",
		ErrorMessage: "disk full & <angry>",
	}

	result, err := svc.SendRunReport(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Contains(t, capturedBody.Text, "Backup Failed")
	assert.Contains(t, capturedBody.Text, "archiver")
	assert.Contains(t, capturedBody.Text, "disk full &amp; &lt;angry&gt;", "error text must be HTML escaped")
}

func TestSendAlert_EscapesText(t *testing.T) {
	var capturedBody sendMessageRequest
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
		},
	}
	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendAlert(context.Background(), testConfig(), "target <x> overdue")

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Contains(t, capturedBody.Text, "target &lt;x&gt; overdue")
}

func TestSend_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("network unreachable")
		},
	}
	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendAlert(context.Background(), testConfig(), "hello")

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.Error(t, result.Error)
}

func TestSend_NonOKStatus(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusForbidden, Body: io.NopCloser(strings.NewReader("{}"))}, nil
		},
	}
	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendAlert(context.Background(), testConfig(), "hello")

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 403")
}
