package wake

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mkoppmann/backsched/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	sendFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockSender) Send(broadcastIP string, mac net.HardwareAddr) error {
	if m.sendFunc != nil {
		return m.sendFunc(broadcastIP, mac)
	}
	return nil
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestWake_NoPollURL(t *testing.T) {
	var gotMAC net.HardwareAddr
	sender := &mockSender{
		sendFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			gotMAC = mac
			return nil
		},
	}
	svc := NewWithClients(testLogger(), sender, nil)

	result, err := svc.Wake(context.Background(), models.WakeConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.ClientReady)
	assert.NoError(t, result.Error)

	wantMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, wantMAC, gotMAC)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockSender{}, nil)

	result, err := svc.Wake(context.Background(), models.WakeConfig{MACAddress: "garbage"})

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailure(t *testing.T) {
	sender := &mockSender{
		sendFunc: func(string, net.HardwareAddr) error { return errors.New("network down") },
	}
	svc := NewWithClients(testLogger(), sender, nil)

	result, err := svc.Wake(context.Background(), models.WakeConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Error(t, result.Error)
}

func TestWake_PollsUntilClientAnswers(t *testing.T) {
	attempts := 0
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}
	svc := NewWithClients(testLogger(), &mockSender{}, httpClient)

	result, err := svc.Wake(context.Background(), models.WakeConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://client:8000",
		Timeout:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.ClientReady)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestWake_PollTimeout(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
	}
	svc := NewWithClients(testLogger(), &mockSender{}, httpClient)

	result, err := svc.Wake(context.Background(), models.WakeConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://client:8000",
		Timeout:      30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.ClientReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
	}
	svc := NewWithClients(testLogger(), &mockSender{}, httpClient)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, models.WakeConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://client:8000",
		Timeout:      5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.False(t, result.ClientReady)
	assert.ErrorIs(t, result.Error, context.Canceled)
}
