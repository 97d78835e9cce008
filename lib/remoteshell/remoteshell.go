// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remoteshell is the thin SSH transport the wrapper protocol
// runs on. It exposes exactly the three modes spec.md's on-VM
// protocol needs: Run (blocking, used for setup steps like clone and
// install), Pipe (stdin-piped upload, used to transport the base64
// wrapper script), and Detach (fire the launch command and return
// without waiting for it to finish, the fire-and-forget contract the
// wrapper protocol depends on).
package remoteshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

// Client wraps a single SSH connection to one instance.
type Client struct {
	conn *ssh.Client
}

// Dial opens an SSH connection to addr:port. Host-key checking is
// intentionally disabled: every instance is freshly provisioned by
// the pool manager moments before this call, so there is no prior
// key to pin against — the trust boundary is "the provider handed us
// this IP just now", not the SSH handshake.
func Dial(ctx context.Context, addr string, port int, user string, signer ssh.Signer, timeout time.Duration) (*Client, error) {
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	target := fmt.Sprintf("%s:%d", addr, port)

	rawConn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, &hal9999errors.TimeoutError{Op: "ssh dial " + target, Elapsed: timeout.String()}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(rawConn, target, config)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("remoteshell: handshake with %s: %w", target, err)
	}

	return &Client{conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Result is the outcome of a Run call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes command and blocks until it exits or ctx is done.
// Context cancellation closes the session, which the remote sshd
// reports as the session terminating — Run surfaces that as ctx.Err().
func (c *Client) Run(ctx context.Context, command string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("remoteshell: new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		return Result{}, ctx.Err()
	case err := <-done:
		result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("remoteshell: run %q: %w", command, err)
	}
}

// Pipe runs command with stdin connected to r and returns everything
// written to stdout. Used to transport the base64-encoded wrapper
// script to a `cat > run.sh` style remote command without a
// separate upload channel.
func (c *Client) Pipe(ctx context.Context, command string, r io.Reader) ([]byte, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("remoteshell: new session: %w", err)
	}
	defer session.Close()

	session.Stdin = r
	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("remoteshell: pipe %q: %w", command, err)
		}
		return stdout.Bytes(), nil
	}
}

// Detach starts command and returns as soon as the remote sshd has
// accepted it, without waiting for it to finish. The wrapper protocol
// uses this to launch run.sh under nohup and disconnect immediately —
// the agent's lifetime must outlive this SSH session.
func (c *Client) Detach(ctx context.Context, command string) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("remoteshell: new session: %w", err)
	}
	defer session.Close()

	if err := session.Start(command); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}
	// Deliberately not session.Wait(): fire-and-forget.
	return nil
}
