// Package remote runs commands on harness targets, used to degrade and
// restore the standby's service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Executor runs a shell command on a remote host and returns its combined output.
type Executor interface {
	Run(ctx context.Context, host, command string) (string, error)
}

// SSHConfig configures key-based SSH access.
type SSHConfig struct {
	User           string
	KeyFile        string
	KnownHostsFile string
	// InsecureIgnoreHostKey skips host key verification when no known_hosts file is set.
	InsecureIgnoreHostKey bool
	Port                  int
	Timeout               time.Duration
}

// SSHExecutor opens one SSH connection per command.
type SSHExecutor struct {
	port         int
	timeout      time.Duration
	clientConfig *ssh.ClientConfig
}

// NewSSHExecutor loads the private key and host key policy.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh: user is required")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("ssh: key file is required")
	}
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("ssh: failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("ssh: failed to parse key file: %w", err)
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.KnownHostsFile != "":
		hostKey, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("ssh: failed to load known_hosts: %w", err)
		}
	case cfg.InsecureIgnoreHostKey:
		hostKey = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("ssh: known_hosts file is required unless host key checking is disabled")
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &SSHExecutor{
		port:    cfg.Port,
		timeout: cfg.Timeout,
		clientConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKey,
			Timeout:         cfg.Timeout,
		},
	}, nil
}

// Run executes command on host. The call is bounded by the configured timeout and ctx.
func (e *SSHExecutor) Run(ctx context.Context, host, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(e.port))
	d := net.Dialer{Timeout: e.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("ssh: dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, e.clientConfig)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh: handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh: open session on %s: %w", addr, err)
	}
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	out, err := session.CombinedOutput(command)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return string(out), fmt.Errorf("ssh: %q on %s: %w", command, host, ctxErr)
	}
	if err != nil {
		return string(out), fmt.Errorf("ssh: %q on %s: %w (%s)", command, host, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
