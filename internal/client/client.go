// Package client is a zindex protocol client.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/matteso1/zindex/internal/protocol"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("client closed")

// Options tunes a Client.
type Options struct {
	MaxMessageSize int
	DialTimeout    time.Duration
}

// DefaultOptions returns the options used by Dial.
func DefaultOptions() Options {
	return Options{
		MaxMessageSize: protocol.DefaultMaxMessageSize,
		DialTimeout:    5 * time.Second,
	}
}

// Client sends requests over one connection. Calls are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	opts   Options
	closed bool
}

// Dial connects to a zindex server with default options.
func Dial(ctx context.Context, addr string) (*Client, error) {
	return DialOptions(ctx, addr, DefaultOptions())
}

// DialOptions connects to a zindex server.
func DialOptions(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		opts: opts,
	}, nil
}

// Do sends one command and waits for its response. An ERR response is
// returned as a value, not an error. The context deadline bounds the
// round trip; cancelling ctx mid-call leaves the connection unusable.
func (c *Client) Do(ctx context.Context, args ...string) (protocol.Value, error) {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return c.DoBytes(ctx, raw)
}

// DoBytes is Do for binary arguments.
func (c *Client) DoBytes(ctx context.Context, args [][]byte) (protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.Value{}, ErrClosed
	}

	deadline, hasDeadline := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return protocol.Value{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteRequest(c.conn, args, c.opts.MaxMessageSize); err != nil {
		return protocol.Value{}, fmt.Errorf("send request: %w", err)
	}
	v, err := protocol.ReadResponse(c.r, c.opts.MaxMessageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Value{}, ctxErr
		}
		if hasDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
			return protocol.Value{}, context.DeadlineExceeded
		}
		return protocol.Value{}, fmt.Errorf("read response: %w", err)
	}
	return v, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
