package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

// Role selects which request variant a server handles and its frame cap.
type Role string

const (
	RoleTick  Role = "tick"
	RoleBatch Role = "batch"
)

// DefaultIOTimeout bounds how long a connection may sit idle or stall a reply.
const DefaultIOTimeout = 30 * time.Second

// MaxFrameSize returns the frame cap for the role.
func (r Role) MaxFrameSize() uint32 {
	if r == RoleBatch {
		return MaxBatchFrameSize
	}
	return MaxTickFrameSize
}

// Handler answers one decoded request. It must always return a response.
type Handler interface {
	Handle(ctx context.Context, msg Message) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) *Response

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) *Response {
	return f(ctx, msg)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	SocketPath string
	Role       Role
	// MaxFrameSize overrides the role's cap when non-zero.
	MaxFrameSize uint32
	// IOTimeout is applied as a read deadline while waiting for a request and
	// a write deadline for the reply. Zero disables deadlines.
	IOTimeout time.Duration
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l ports.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Server accepts connections on a unix socket and serves framed requests,
// one goroutine per connection.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  ports.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server; call Listen and Serve, or ListenAndServe.
func NewServer(cfg ServerConfig, handler Handler, opts ...ServerOption) *Server {
	if cfg.Role == "" {
		cfg.Role = RoleTick
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = cfg.Role.MaxFrameSize()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  log.NewNoopLogger(),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen removes any stale socket file and binds the socket.
func (s *Server) Listen() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", s.cfg.SocketPath, err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.SocketPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.logger.Info("ipc server listening",
		ports.String("role", string(s.cfg.Role)),
		ports.String("socket", s.cfg.SocketPath),
		ports.Int("max_frame", int(s.cfg.MaxFrameSize)),
	)
	return nil
}

// ListenAndServe calls Listen then Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done or Close is called. It closes
// the server before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("ipc: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	bo := newBackoff(acceptBackoffInitial, acceptBackoffMax)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay := bo.Next()
			s.logger.Error("accept failed", ports.Err(err), ports.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes open connections, waits for their handlers
// and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Error("remove socket file", ports.String("socket", s.cfg.SocketPath), ports.Err(rmErr))
	}
	s.logger.Info("ipc server stopped", ports.String("role", string(s.cfg.Role)))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// SocketPath returns the configured socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	role := string(s.cfg.Role)
	connID := uuid.NewString()
	s.metrics.ConnOpened(role)
	defer s.metrics.ConnClosed(role)
	s.logger.Debug("client connected", ports.String("role", role), ports.String("conn_id", connID))

	for {
		s.deadline(conn.SetReadDeadline)
		payload, err := ReadFrame(conn, s.cfg.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Debug("client disconnected", ports.String("conn_id", connID))
			case errors.Is(err, domain.ErrFrameTooLarge):
				s.metrics.ObserveFrame(role, "oversize")
				s.logger.Error("frame too large, closing connection", ports.String("conn_id", connID), ports.Err(err))
			case s.isClosed():
			default:
				s.logger.Warn("read failed, closing connection", ports.String("conn_id", connID), ports.Err(err))
			}
			return
		}

		var resp *Response
		msg, err := Decode(payload)
		if err != nil {
			s.metrics.ObserveFrame(role, "decode_error")
			s.logger.Warn("malformed request", ports.String("conn_id", connID), ports.Err(err))
			resp = &Response{Success: false, Message: fmt.Sprintf("deserialization error: %v", err)}
		} else {
			s.metrics.ObserveFrame(role, "ok")
			resp = s.handler.Handle(s.ctx, msg)
			if resp == nil {
				resp = &Response{Success: false, Message: "no response"}
			}
		}

		s.deadline(conn.SetWriteDeadline)
		if err := WriteMessage(conn, resp); err != nil {
			s.logger.Warn("write response failed", ports.String("conn_id", connID), ports.Err(err))
			return
		}
	}
}

func (s *Server) deadline(set func(time.Time) error) {
	if s.cfg.IOTimeout <= 0 {
		return
	}
	_ = set(time.Now().Add(s.cfg.IOTimeout))
}
