package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SSHClient runs read-only commands on a remote host. It satisfies
// engine.CommandRunner.
type SSHClient struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
}

// NewSSHClient validates the config and returns an unconnected client.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &SSHClient{config: config}, nil
}

// Connect dials and authenticates. Cancelling ctx aborts the handshake.
// Calling it on a connected client is a no-op.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Kind: KindAuth, Err: err}
	}

	address := c.config.Address()
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "connect", Kind: KindTemporary, Err: err}
	}

	_ = conn.SetDeadline(time.Now().Add(c.config.ConnectionTimeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sconn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if !stop() {
		if err == nil {
			_ = sconn.Close()
		}
		return &TransportError{Op: "connect", Kind: KindTemporary, Err: ctx.Err()}
	}
	if err != nil {
		_ = conn.Close()
		kind := KindTemporary
		if strings.Contains(err.Error(), "unable to authenticate") {
			kind = KindAuth
		}
		return &TransportError{Op: "connect", Kind: kind, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sconn, chans, reqs)
	c.connectedAt = time.Now()
	log.Debug().Str("address", address).Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

// Disconnect closes the connection.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// IsConnected reports whether Connect succeeded and Disconnect was not called.
func (c *SSHClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// ConnectedAt returns when the current connection was established.
func (c *SSHClient) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// ExecuteCommand runs cmd in a new session and returns trimmed output.
// Without a deadline on ctx the config's CommandTimeout applies. A
// non-zero exit status is a KindPermanent error.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return "", "", &TransportError{Op: "execute", Err: errors.New("not connected")}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", &TransportError{Op: "execute", Kind: KindTemporary, Err: fmt.Errorf("new session: %w", err)}
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	start := time.Now()
	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
	})
	runErr := session.Run(cmd)
	if !stop() {
		runErr = ctx.Err()
	}

	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())
	log.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(runErr).
		Msg("Remote command finished")

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return stdout, stderr, nil
	case errors.As(runErr, &exitErr):
		return stdout, stderr, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("%q exited with code %d: %s", cmd, exitErr.ExitStatus(), stderr),
		}
	default:
		return stdout, stderr, &TransportError{Op: "execute", Kind: KindTemporary, Err: runErr}
	}
}
