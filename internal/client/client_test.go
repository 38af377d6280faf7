package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteso1/zindex/internal/protocol"
)

// echoServer answers every request with an array of its arguments, except
// "hang", which is never answered.
func echoServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					args, err := protocol.ReadRequest(conn, protocol.DefaultMaxMessageSize)
					if err != nil {
						return
					}
					if len(args) == 1 && string(args[0]) == "hang" {
						continue
					}
					out := make([]protocol.Value, len(args))
					for i, a := range args {
						out[i] = protocol.Str(string(a))
					}
					if err := protocol.WriteResponse(conn, protocol.Arr(out...), protocol.DefaultMaxMessageSize); err != nil {
						return
					}
				}
			}()
		}
	}()
	return lis.Addr().String()
}

func TestClient_Do(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Do(context.Background(), "zadd", "k", "1", "a")
	require.NoError(t, err)
	assert.Equal(t, protocol.Arr(protocol.Str("zadd"), protocol.Str("k"), protocol.Str("1"), protocol.Str("a")), v)

	// The connection is reused.
	v, err = c.Do(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, protocol.Arr(protocol.Str("ping")), v)
}

func TestClient_RequestTooLong(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Do(context.Background(), strings.Repeat("x", 5000))
	assert.True(t, errors.Is(err, protocol.ErrMessageTooLong), "got %v", err)

	_, err = c.Do(context.Background(), "still", "works")
	assert.NoError(t, err)
}

func TestClient_ContextDeadline(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Do(ctx, "hang")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestClient_Closed(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Do(context.Background(), "ping")
	assert.Equal(t, ErrClosed, err)
}

func TestDial_Refused(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
