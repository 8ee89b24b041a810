// Package sshx provides the "run a command on a remote host" primitive the
// provisioning pipeline is built on, with pooled connections per host.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Target describes a remote host and how to authenticate against it
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
}

// Addr returns the dialable host:port address
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// Result carries the outcome of a remote command
type Result struct {
	ExitCode int
	Output   string
}

// Runner executes commands on remote hosts. A non-zero exit code is reported
// in the Result, not as an error; errors are reserved for transport failures.
type Runner interface {
	Run(ctx context.Context, target Target, command string) (Result, error)
}

// Client defines a connection to a single remote host
type Client interface {
	RunCommand(ctx context.Context, command string) (Result, error)
	Close() error
}

type client struct {
	conn *ssh.Client
}

// Dial opens an SSH connection to the target using password or key auth
func Dial(target Target, timeout time.Duration) (Client, error) {
	var methods []ssh.AuthMethod

	if target.KeyPath != "" {
		key, err := os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		methods = append(methods, ssh.Password(target.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method for %s", target.Addr())
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: pin host keys once the admin UI can manage them
		Timeout:         timeout,
	}

	conn, err := ssh.Dial("tcp", target.Addr(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target.Addr(), err)
	}

	return &client{conn: conn}, nil
}

// RunCommand executes one command, capturing combined output and exit code
func (c *client) RunCommand(ctx context.Context, command string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Best effort: tear the session down so the remote command
		// does not keep the connection busy.
		_ = session.Signal(ssh.SIGKILL)
		return Result{Output: buf.String()}, ctx.Err()
	case err := <-errCh:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return Result{ExitCode: exitErr.ExitStatus(), Output: buf.String()}, nil
			}
			return Result{Output: buf.String()}, fmt.Errorf("failed to run command: %w", err)
		}
	}

	return Result{ExitCode: 0, Output: buf.String()}, nil
}

// Close terminates the underlying connection
func (c *client) Close() error {
	return c.conn.Close()
}
