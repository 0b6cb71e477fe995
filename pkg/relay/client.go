package relay

import (
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultAddr is where the arbiter daemon listens on a test station.
const DefaultAddr = "localhost:11222"

// DefaultTimeout bounds one full request/response cycle. The arbiter
// serializes hardware exchanges, so a busy board can hold a request for a
// few hundred milliseconds; five seconds is generous.
const DefaultTimeout = 5 * time.Second

// Client sends tasks to the relay arbiter. Each request uses a fresh
// connection: connect, send one task, receive one response, close.
// The zero value is not usable; use NewClient.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for the arbiter at addr. Empty addr means
// DefaultAddr.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{addr: addr, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of the client using the given per-request
// timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	return &Client{addr: c.addr, timeout: timeout}
}

// Addr reports the arbiter address this client targets.
func (c *Client) Addr() string {
	return c.addr
}

// Do performs one request/response cycle. A connect failure or timeout is
// returned as an error and is never retried here; retrying is the
// caller's decision.
func (c *Client) Do(task Task) (*Response, error) {
	payload, err := EncodeTask(task)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to arbiter at %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting request deadline: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("sending task: %w", err)
	}
	// Half-close so the arbiter's read sees the payload boundary.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("closing write side: %w", err)
		}
	}

	data, err := io.ReadAll(io.LimitReader(conn, MaxPayload))
	if err != nil {
		return nil, fmt.Errorf("receiving response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("arbiter closed connection without a response")
	}

	return DecodeResponse(data)
}
