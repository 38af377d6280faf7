package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteso1/zindex/internal/client"
	"github.com/matteso1/zindex/internal/config"
	"github.com/matteso1/zindex/internal/protocol"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func startServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Index.InitialCapacity = 6

	_, err := NewServer(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestServer_Commands(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	ctx := context.Background()

	v, err := c.Do(ctx, "zadd", "board", "10", "alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(1), v)

	v, err = c.Do(ctx, "zscore", "board", "alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.Dbl(10), v)

	v, err = c.Do(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeUnknown, v.Code)

	n, err := testutil.GatherAndCount(srv.Metrics().Registry(), "zindex_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one series per command and status")
}

func TestServer_StartTwice(t *testing.T) {
	srv := startServer(t, testConfig())
	assert.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyStarted)
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv, err := NewServer(testConfig(), nil)
	require.NoError(t, err)

	assert.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerClosed)
	assert.ErrorIs(t, srv.Wait(), ErrServerClosed)
}

func TestServer_StopClosesConnections(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(testConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	c, err := client.Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Do(context.Background(), "ping")
	require.NoError(t, err)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Wait())

	_, err = c.Do(context.Background(), "ping")
	assert.Error(t, err)
}

func TestServer_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := NewServer(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))

	cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServer_MalformedRequestKeepsConnection(t *testing.T) {
	srv := startServer(t, testConfig())
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Claims two arguments but carries none.
	body := binary.LittleEndian.AppendUint32(nil, 2)
	frame := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	_, err = conn.Write(append(frame, body...))
	require.NoError(t, err)

	v, err := protocol.ReadResponse(conn, protocol.DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeArg, v.Code)

	require.NoError(t, protocol.WriteRequest(conn, [][]byte{[]byte("ping")}, protocol.DefaultMaxMessageSize))
	v, err = protocol.ReadResponse(conn, protocol.DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, protocol.Str("PONG"), v)
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	srv := startServer(t, testConfig())
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(binary.LittleEndian.AppendUint32(nil, protocol.DefaultMaxMessageSize+1))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = protocol.ReadResponse(conn, protocol.DefaultMaxMessageSize)
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_Pipelining(t *testing.T) {
	srv := startServer(t, testConfig())
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var batch []byte
	for i := 0; i < 50; i++ {
		args := [][]byte{[]byte("zadd"), []byte("k"), []byte(fmt.Sprint(i)), []byte(fmt.Sprintf("m%02d", i))}
		body := protocol.EncodeRequest(args)
		batch = binary.LittleEndian.AppendUint32(batch, uint32(len(body)))
		batch = append(batch, body...)
	}
	_, err = conn.Write(batch)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		v, err := protocol.ReadResponse(conn, protocol.DefaultMaxMessageSize)
		require.NoError(t, err)
		assert.Equal(t, protocol.Int(1), v)
	}
}

func TestServer_ResponseTooBig(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	ctx := context.Background()

	name := fmt.Sprintf("%0200d", 0)
	for i := 0; i < 40; i++ {
		_, err := c.Do(ctx, "zadd", "k", fmt.Sprint(i), name[:190]+fmt.Sprintf("%010d", i))
		require.NoError(t, err)
	}

	v, err := c.Do(ctx, "zquery", "k", "0", "", "0", "40")
	require.NoError(t, err)
	require.True(t, v.IsErr())
	assert.Equal(t, protocol.ErrCodeTooBig, v.Code)

	v, err = c.Do(ctx, "zquery", "k", "0", "", "0", "2")
	require.NoError(t, err)
	assert.Len(t, v.Arr, 4)
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv := startServer(t, testConfig())

	const clients, perClient = 8, 100
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		cl := dial(t, srv)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				v, err := cl.Do(context.Background(), "zadd", "shared", fmt.Sprint(i), fmt.Sprintf("c%d-%d", id, i))
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, protocol.Int(1), v)
			}
		}(c)
	}
	wg.Wait()

	v, err := dial(t, srv).Do(context.Background(), "zcard", "shared")
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(clients*perClient), v)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsAddr := lis.Addr().String()
	lis.Close()

	cfg := testConfig()
	cfg.Server.MetricsAddr = metricsAddr
	srv := startServer(t, cfg)

	_, err = dial(t, srv).Do(context.Background(), "ping")
	require.NoError(t, err)

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + metricsAddr + "/metrics")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `zindex_commands_total{command="ping",status="ok"} 1`)
}
