// Package remote runs the pre- and post-run hook commands that quiesce a
// backup client before the archiver starts and release it afterwards.
// Hooks execute locally by default, or on the client over SSH when an SSH
// block is configured.
package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/mkoppmann/backsched/internal/models"
)

// Service defines the interface for hook execution.
type Service interface {
	Run(ctx context.Context, cfg models.HookConfig, command string) (*models.HookResult, error)
}

// Session is one remote command execution channel; wraps ssh.Session for
// mocking.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Client wraps ssh.Client for mocking.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Dialer opens SSH connections.
type Dialer interface {
	Dial(addr string, config *ssh.ClientConfig) (Client, error)
}

// CommandExecutor runs local hook commands; wraps os/exec for mocking.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

type sshDialer struct{}

func (sshDialer) Dial(addr string, config *ssh.ClientConfig) (Client, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return sshClient{client}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c sshClient) NewSession() (Session, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c sshClient) Close() error {
	return c.client.Close()
}

type shellExecutor struct{}

func (shellExecutor) Execute(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
}

// Impl implements the remote Service interface.
type Impl struct {
	dialer   Dialer
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new hook service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		dialer:   sshDialer{},
		executor: shellExecutor{},
		logger:   logger,
	}
}

// NewWithClients creates a new hook service with custom collaborators (for
// testing).
func NewWithClients(logger zerolog.Logger, dialer Dialer, executor CommandExecutor) *Impl {
	return &Impl{
		dialer:   dialer,
		executor: executor,
		logger:   logger,
	}
}

// Run executes one hook command. Failures are reported in the result so the
// caller can decide whether a failed pre-run hook aborts the backup.
func (s *Impl) Run(ctx context.Context, cfg models.HookConfig, command string) (*models.HookResult, error) {
	result := &models.HookResult{}
	if command == "" {
		return result, nil
	}

	if cfg.SSH == nil {
		s.logger.Debug().Str("command", command).Msg("running local hook")
		output, err := s.executor.Execute(ctx, command)
		result.Output = string(output)
		result.CommandRun = true
		if err != nil {
			result.Error = fmt.Errorf("hook command failed: %w", err)
		}
		return result, nil
	}

	return s.runSSH(ctx, cfg.SSH, command)
}

func (s *Impl) runSSH(ctx context.Context, cfg *models.SSHConfig, command string) (*models.HookResult, error) {
	result := &models.HookResult{}

	clientConfig, err := s.clientConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	s.logger.Debug().
		Str("addr", addr).
		Str("command", command).
		Msg("running remote hook")

	// ssh.Dial has no context support; run it on the side so cancellation
	// still unblocks the caller.
	type dialed struct {
		client Client
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		client, err := s.dialer.Dial(addr, clientConfig)
		ch <- dialed{client, err}
	}()

	var client Client
	select {
	case <-ctx.Done():
		// The dial may still succeed after we stop waiting; close the
		// orphaned connection once it arrives.
		go func() {
			if d := <-ch; d.client != nil {
				d.client.Close()
			}
		}()
		result.Error = ctx.Err()
		return result, nil
	case d := <-ch:
		if d.err != nil {
			result.Error = fmt.Errorf("connecting to %s: %w", addr, d.err)
			return result, nil
		}
		client = d.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("creating session: %w", err)
		return result, nil
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	result.Output = string(output)
	result.CommandRun = true
	if err != nil {
		result.Error = fmt.Errorf("hook command failed: %w", err)
	}
	return result, nil
}

func (s *Impl) clientConfig(cfg *models.SSHConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no SSH private key configured")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // homelab environment
		Timeout:         30 * time.Second,
	}, nil
}
