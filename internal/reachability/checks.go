package reachability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"
)

// ErrToolUnavailable is returned when a probing utility cannot be found at startup.
var ErrToolUnavailable = errors.New("probing tool unavailable")

// Tier identifies the layer a Check probes.
type Tier string

const (
	TierApplication Tier = "application"
	TierNetwork     Tier = "network"
	TierTransport   Tier = "transport"
)

// Check is one probing tier. Probe returns nil when the host answered at that layer.
type Check interface {
	Tier() Tier
	Probe(ctx context.Context, host string) error
}

// HTTPCheck issues a bounded GET against the service port.
// Any response below 500 counts as serving.
type HTTPCheck struct {
	Port    int
	Path    string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPCheck creates an application-tier check.
func NewHTTPCheck(port int, path string, timeout time.Duration) *HTTPCheck {
	if path == "" {
		path = "/"
	}
	return &HTTPCheck{
		Port:    port,
		Path:    path,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCheck) Tier() Tier { return TierApplication }

func (c *HTTPCheck) Probe(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(c.Port)), c.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return nil
}

// PingCheck sends a single ICMP echo through the system ping utility.
type PingCheck struct {
	path    string
	timeout time.Duration
}

// NewPingCheck resolves the ping utility once. It fails fast with
// ErrToolUnavailable when the binary is missing.
func NewPingCheck(binary string, timeout time.Duration) (*PingCheck, error) {
	if binary == "" {
		binary = "ping"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, binary, err)
	}
	return &PingCheck{path: path, timeout: timeout}, nil
}

func (c *PingCheck) Tier() Tier { return TierNetwork }

func (c *PingCheck) Probe(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Second)
	defer cancel()

	wait := int(c.timeout.Seconds())
	if wait < 1 {
		wait = 1
	}
	cmd := exec.CommandContext(ctx, c.path, "-c", "1", "-W", strconv.Itoa(wait), host)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ping %s: %w (%s)", host, err, firstLine(out))
	}
	return nil
}

// TCPCheck opens and closes a TCP connection to an administrative port.
type TCPCheck struct {
	Port    int
	Timeout time.Duration
}

// NewTCPCheck creates a transport-tier check.
func NewTCPCheck(port int, timeout time.Duration) *TCPCheck {
	return &TCPCheck{Port: port, Timeout: timeout}
}

func (c *TCPCheck) Tier() Tier { return TierTransport }

func (c *TCPCheck) Probe(ctx context.Context, host string) error {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(c.Port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
