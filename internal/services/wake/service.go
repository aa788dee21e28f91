// Package wake powers up backup clients over Wake-on-LAN before a run.
package wake

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"

	"github.com/mkoppmann/backsched/internal/models"
)

// Service defines the interface for waking a backup client.
type Service interface {
	Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error)
}

// PacketSender sends the magic packet; wraps the wol library for mocking.
type PacketSender interface {
	Send(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking readiness polling.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultSender sends magic packets via mdlayher/wol.
type DefaultSender struct{}

// Send delivers a magic packet to the broadcast address on the discard
// port.
func (DefaultSender) Send(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("creating WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP %q", broadcastIP)
	}
	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("sending WOL packet: %w", err)
	}
	return nil
}

// Impl implements the wake Service interface.
type Impl struct {
	sender     PacketSender
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new wake service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender:     DefaultSender{},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// NewWithClients creates a new wake service with custom collaborators (for
// testing).
func NewWithClients(logger zerolog.Logger, sender PacketSender, httpClient HTTPClient) *Impl {
	return &Impl{
		sender:     sender,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Wake sends a magic packet to the client and, if a poll URL is configured,
// waits until it answers. Failures land in the result rather than the error
// return so the caller can decide whether a sleeping client is fatal.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	began := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking backup client")

	if err := s.sender.Send(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.ClientReady = true
		result.WaitDuration = time.Since(began)
		return result, nil
	}

	if err := s.pollUntilReady(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(began)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(began)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.ClientReady = true
	result.WaitDuration = time.Since(began)

	s.logger.Info().
		Dur("wait", result.WaitDuration).
		Msg("backup client is ready")

	return result, nil
}

func (s *Impl) pollUntilReady(ctx context.Context, cfg models.WakeConfig) error {
	deadline := time.Now().Add(cfg.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for client at %s", cfg.PollURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("creating poll request: %w", err)
		}
		if resp, err := s.httpClient.Do(req); err == nil {
			_ = resp.Body.Close()
			// Any answer counts as awake.
			return nil
		} else {
			s.logger.Debug().Err(err).Msg("client not ready yet")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
