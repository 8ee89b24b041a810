package sshx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	applogger "github.com/vpanel/core/pkg/logger"
)

// connection represents a pooled SSH connection
type connection struct {
	client   Client
	lastUsed time.Time
}

// PoolConfig holds tunables for the connection pool
type PoolConfig struct {
	DialTimeout   time.Duration
	MaxIdle       time.Duration
	RetryAttempts int
}

// Pool manages SSH connections with per-host pooling and idle cleanup.
// It implements Runner.
type Pool struct {
	connections map[string]*connection
	mutex       sync.Mutex
	config      PoolConfig
	logger      *applogger.Logger

	dial    func(Target, time.Duration) (Client, error)
	backoff time.Duration
}

var _ Runner = (*Pool)(nil)

// NewPool creates a new SSH connection pool
func NewPool(config PoolConfig, logger *applogger.Logger) *Pool {
	if config.MaxIdle == 0 {
		config.MaxIdle = 5 * time.Minute
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}

	return &Pool{
		connections: make(map[string]*connection),
		config:      config,
		logger:      logger.WithComponent("sshx.pool"),
		dial:        Dial,
		backoff:     time.Second,
	}
}

// Run executes a command on the target with retry on transient transport
// failures. Non-zero exit codes are returned in the Result without retry:
// re-running a failed provisioning command blindly is not safe.
// On final failure the last attempt's partial output is returned alongside
// the error so callers can surface it in their logs.
func (p *Pool) Run(ctx context.Context, target Target, command string) (Result, error) {
	var lastErr error
	var lastRes Result

	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		res, err := p.runOnce(ctx, target, command)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if res.Output != "" {
			lastRes = res
		}

		if !isRetryableSSHError(err) {
			break
		}

		// The pooled connection may be stale; force a fresh dial
		p.closeConnection(target.Addr())

		if attempt < p.config.RetryAttempts-1 {
			backoff := time.Duration(1<<attempt) * p.backoff
			p.logger.Debug("SSH command failed, retrying",
				slog.String("host", target.Host),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return lastRes, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastRes, fmt.Errorf("SSH command failed after %d attempts: %w", p.config.RetryAttempts, lastErr)
}

func (p *Pool) runOnce(ctx context.Context, target Target, command string) (Result, error) {
	client, err := p.getConnection(target)
	if err != nil {
		return Result{}, err
	}
	return client.RunCommand(ctx, command)
}

// getConnection retrieves or creates a pooled SSH connection
func (p *Pool) getConnection(target Target) (Client, error) {
	addr := target.Addr()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[addr]; exists {
		conn.lastUsed = time.Now()
		return conn.client, nil
	}

	client, err := p.dial(target, p.config.DialTimeout)
	if err != nil {
		return nil, err
	}

	p.connections[addr] = &connection{
		client:   client,
		lastUsed: time.Now(),
	}

	p.logger.Debug("established new SSH connection", slog.String("addr", addr))
	return client, nil
}

// closeConnection closes and removes a connection from the pool
func (p *Pool) closeConnection(addr string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if conn, exists := p.connections[addr]; exists {
		_ = conn.client.Close()
		delete(p.connections, addr)
		p.logger.Debug("closed SSH connection", slog.String("addr", addr))
	}
}

// CleanupIdleConnections removes idle connections from the pool
func (p *Pool) CleanupIdleConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	for addr, conn := range p.connections {
		if now.Sub(conn.lastUsed) > p.config.MaxIdle {
			_ = conn.client.Close()
			delete(p.connections, addr)
			p.logger.Debug("cleaned up idle SSH connection", slog.String("addr", addr))
		}
	}
}

// CloseAll closes all connections in the pool
func (p *Pool) CloseAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for addr, conn := range p.connections {
		_ = conn.client.Close()
		delete(p.connections, addr)
	}
}

// isRetryableSSHError determines if an SSH error is worth retrying
func isRetryableSSHError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"i/o timeout",
		"connection lost",
		"ssh: handshake failed",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
