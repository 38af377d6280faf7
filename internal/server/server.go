// Package server serves sorted sets over the zindex wire protocol.
//
// Connections are read concurrently, but every command runs on a single
// executor goroutine that owns the keyspace:
//
//	conn ──┐
//	conn ──┼──► requests chan ──► executor ──► Dispatcher ──► keyspace
//	conn ──┘          ▲                │
//	                  └── reply chan ◄─┘
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/matteso1/zindex/internal/config"
	"github.com/matteso1/zindex/internal/keyspace"
	"github.com/matteso1/zindex/internal/metrics"
	"github.com/matteso1/zindex/internal/protocol"
	"github.com/matteso1/zindex/internal/zset"
)

var tracer = otel.Tracer("zindex.server")

// statsInterval is how often keyspace gauges are refreshed.
const statsInterval = time.Second

type request struct {
	ctx   context.Context
	args  [][]byte
	reply chan protocol.Value
}

// Server is a zindex TCP server.
type Server struct {
	config     config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	keys       *keyspace.Keyspace
	dispatcher *Dispatcher

	requests chan request

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// NewServer creates a server. A nil logger uses slog.Default.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sets := zset.DefaultConfig()
	sets.Index = cfg.Index.HashIndex()
	ks := keyspace.New(keyspace.Config{
		Keys: cfg.Index.HashIndex(),
		Sets: sets,
	})

	return &Server{
		config:     cfg,
		logger:     logger,
		metrics:    metrics.NewMetrics(),
		keys:       ks,
		dispatcher: NewDispatcher(ks),
		requests:   make(chan request, cfg.Server.QueueDepth),
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start binds the listener and serves in the background until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}
	if s.closed {
		return ErrServerClosed
	}

	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.execute(gctx) })
	g.Go(func() error { return s.acceptLoop(gctx, lis) })

	var httpSrv *http.Server
	if addr := s.config.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		httpSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			s.logger.Info("metrics endpoint listening", slog.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		lis.Close()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		s.closeConns()
		return nil
	})

	go func() {
		s.err = g.Wait()
		s.logger.Info("zindex server stopped")
		close(s.done)
	}()

	s.logger.Info("zindex server listening",
		slog.String("addr", lis.Addr().String()),
		slog.Int("max_message_size", s.config.Server.MaxMessageSize),
	)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the server has stopped and returns the first error
// that stopped it.
func (s *Server) Wait() error {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return ErrServerClosed
	}
	<-s.done
	return s.err
}

// Stop closes the listener and every connection, then waits for the
// executor to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	cancel()
	<-s.done
	return s.err
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, lis net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.metrics.RecordError("accept")
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.logger.With(
		slog.String("conn_id", uuid.NewString()),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	log.Debug("connection opened")

	maxSize := s.config.Server.MaxMessageSize
	r := bufio.NewReaderSize(conn, 4+maxSize)
	w := bufio.NewWriterSize(conn, 4+maxSize)

	for {
		if t := s.config.Server.IdleTimeout; t > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t))
		}

		var resp protocol.Value
		args, err := protocol.ReadRequest(r, maxSize)
		switch {
		case err == nil:
			resp, err = s.submit(ctx, args)
			if err != nil {
				return
			}
		case errors.Is(err, protocol.ErrMalformedRequest):
			s.metrics.RecordError("protocol")
			log.Warn("malformed request", slog.String("error", err.Error()))
			resp = protocol.Err(protocol.ErrCodeArg, "malformed request")
		case errors.Is(err, io.EOF):
			log.Debug("connection closed by peer")
			return
		default:
			if ctx.Err() == nil {
				s.metrics.RecordError("read")
				log.Warn("closing connection", slog.String("error", err.Error()))
			}
			return
		}

		if err := protocol.WriteResponse(w, resp, maxSize); err != nil {
			s.metrics.RecordError("write")
			log.Warn("write failed", slog.String("error", err.Error()))
			return
		}
		// Pipelined requests are answered in one flush.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				s.metrics.RecordError("write")
				log.Warn("flush failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// submit hands a request to the executor and waits for its reply.
func (s *Server) submit(ctx context.Context, args [][]byte) (protocol.Value, error) {
	req := request{ctx: ctx, args: args, reply: make(chan protocol.Value, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return protocol.Value{}, ctx.Err()
	}
	s.metrics.SetQueueDepth(len(s.requests))

	select {
	case v := <-req.reply:
		return v, nil
	case <-ctx.Done():
		return protocol.Value{}, ctx.Err()
	}
}

// execute is the only goroutine that touches the keyspace.
func (s *Server) execute(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			req.reply <- s.handle(req.ctx, req.args)
		case <-ticker.C:
			st := s.keys.Stats()
			s.metrics.SetKeyspace(st.Keys, st.Members, st.Resizing)
			s.metrics.SetQueueDepth(len(s.requests))
		}
	}
}

func (s *Server) handle(ctx context.Context, args [][]byte) protocol.Value {
	start := time.Now()
	_, span := tracer.Start(ctx, "zindex.command")
	defer span.End()

	name, v := s.dispatcher.Dispatch(args)
	span.SetName("zindex." + name)
	span.SetAttributes(
		attribute.String("zindex.command", name),
		attribute.Int("zindex.args", len(args)),
	)

	status := metrics.StatusOK
	if v.IsErr() {
		status = metrics.StatusError
		span.SetStatus(codes.Error, v.Str)
	}
	s.metrics.RecordCommand(name, status, time.Since(start))
	return v
}
