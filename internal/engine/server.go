// Package engine serves and consumes the engine control API: JSON-RPC 2.0
// over HTTP for ticking the validator clock and for submitting a transaction
// and driving the clock until it is decided.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/tickbridge/internal/auth"
	"github.com/bft-labs/tickbridge/internal/bridge"
	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

const (
	DefaultTicksPerSlot = 64
	// postSendTicks are issued after dispatch before the first status poll.
	postSendTicks = 3
	maxBodySize   = 16 << 20
)

// Config configures the control server.
type Config struct {
	Addr         string
	TicksPerSlot uint64
}

// Server is the engine control HTTP server.
type Server struct {
	cfg        Config
	ticker     ports.TickDriver
	querier    ports.ChainQuerier
	dispatcher ports.TxDispatcher
	logger     ports.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	policy     func() bridge.RetryPolicy
	sleep      func(context.Context, time.Duration) error
	authSecret string
	now        func() time.Time

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request metrics in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithPolicySource sets where the confirmation budget is read from on each
// request.
func WithPolicySource(fn func() bridge.RetryPolicy) Option {
	return func(s *Server) {
		if fn != nil {
			s.policy = fn
		}
	}
}

// WithAuthSecret requires every JSON-RPC request to carry a bearer token
// minted from secretHex. An empty secret leaves the API open.
func WithAuthSecret(secretHex string) Option {
	return func(s *Server) { s.authSecret = secretHex }
}

// NewServer creates a control server. querier and dispatcher are used only by
// engine_send_and_confirm_tx.
func NewServer(cfg Config, ticker ports.TickDriver, querier ports.ChainQuerier, dispatcher ports.TxDispatcher, opts ...Option) *Server {
	if cfg.TicksPerSlot == 0 {
		cfg.TicksPerSlot = DefaultTicksPerSlot
	}
	s := &Server{
		cfg:        cfg,
		ticker:     ticker,
		querier:    querier,
		dispatcher: dispatcher,
		logger:     log.NewNoopLogger(),
		policy:     bridge.DefaultRetryPolicy,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler: JSON-RPC on POST, /healthz, and
// /metrics when a gatherer is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.logger.Warn("failed to write health response", ports.Err(err))
		}
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("POST /", s.serveRPC)
	return mux
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	s.logger.Info("engine control server listening", ports.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Serve serves until ctx ends or Shutdown is called. Listen must be called
// first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.srv, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("engine: serve before listen")
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("engine control server shutdown error", ports.Err(err))
		}
	})
	defer stop()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("engine control server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if s.authSecret != "" {
		if err := s.authorize(r); err != nil {
			s.logger.Warn("engine request unauthorized", ports.String("remote", r.RemoteAddr), ports.Err(err))
			s.metrics.ObserveEngine("unauthorized", http.StatusUnauthorized)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.write(w, "", nil, nil, &RPCError{Code: CodeParseError, Message: fmt.Sprintf("read body: %v", err)})
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.write(w, "", nil, nil, &RPCError{Code: CodeParseError, Message: "parse error"})
		return
	}

	var (
		result interface{}
		rpcErr *RPCError
	)
	switch req.Method {
	case MethodTick:
		result, rpcErr = s.tick(r.Context())
	case MethodStepSlot:
		result, rpcErr = s.stepSlot(r.Context())
	case MethodSendAndConfirmTx:
		result, rpcErr = s.sendAndConfirm(r.Context(), req.Params)
	default:
		rpcErr = &RPCError{Code: CodeMethodNotFound, Message: "method not found"}
	}
	s.write(w, req.Method, req.ID, result, rpcErr)
}

func (s *Server) authorize(r *http.Request) error {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return errors.New("missing bearer token")
	}
	_, err := auth.Verify(s.authSecret, token, s.now())
	return err
}

func (s *Server) write(w http.ResponseWriter, method string, id json.RawMessage, result interface{}, rpcErr *RPCError) {
	resp := Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		s.logger.Debug("engine request failed",
			ports.String("method", method),
			ports.Int("code", rpcErr.Code),
			ports.String("message", rpcErr.Message),
		)
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeTickFailed, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	if method != "" {
		s.metrics.ObserveEngine(method, code)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write engine response", ports.Err(err))
	}
}

func (s *Server) tick(ctx context.Context) (interface{}, *RPCError) {
	if err := s.ticker.TriggerTick(ctx); err != nil {
		return nil, &RPCError{Code: CodeTickFailed, Message: fmt.Sprintf("tick failed: %v", err)}
	}
	return "ok", nil
}

func (s *Server) stepSlot(ctx context.Context) (interface{}, *RPCError) {
	for i := uint64(0); i < s.cfg.TicksPerSlot; i++ {
		if err := s.ticker.TriggerTick(ctx); err != nil {
			return nil, &RPCError{Code: CodeTickFailed, Message: fmt.Sprintf("tick %d failed: %v", i, err)}
		}
	}
	return "ok", nil
}

func (s *Server) sendAndConfirm(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	raw, rpcErr := decodeTxParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if _, rpcErr := s.tick(ctx); rpcErr != nil {
		return nil, rpcErr
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid tx encoding: %v", err)}
	}

	sig, err := s.dispatcher.SendTransaction(ctx, tx)
	if err != nil {
		return nil, &RPCError{Code: CodeSendFailed, Message: fmt.Sprintf("send failed: %v", err)}
	}

	for i := 0; i < postSendTicks; i++ {
		if _, rpcErr := s.tick(ctx); rpcErr != nil {
			return nil, rpcErr
		}
	}

	policy := s.policy()
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		st, err := s.querier.SignatureStatus(ctx, sig, domain.CommitmentProcessed)
		if err == nil && st != nil {
			if st.Err != nil {
				return nil, &RPCError{Code: CodeRejected, Message: (&domain.RejectedError{Signature: sig.String(), Cause: st.Err}).Error()}
			}
			return sig.String(), nil
		}
		if _, rpcErr := s.tick(ctx); rpcErr != nil {
			s.logger.Warn("tick failed while confirming", ports.Stringer("signature", sig), ports.String("error", rpcErr.Message))
		}
		if err := s.sleep(ctx, policy.PollInterval); err != nil {
			return nil, &RPCError{Code: CodeTickFailed, Message: err.Error()}
		}
	}
	return nil, &RPCError{Code: CodeTimeout, Message: "confirmation timeout"}
}

// decodeTxParam reads params [payload, {"encoding": ...}?].
func decodeTxParam(params json.RawMessage) ([]byte, *RPCError) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil || len(list) == 0 {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "expected [transaction, options?]"}
	}
	var payload string
	if err := json.Unmarshal(list[0], &payload); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "transaction must be a string"}
	}
	opts := SendOptions{Encoding: EncodingBase64}
	if len(list) > 1 {
		if err := json.Unmarshal(list[1], &opts); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid options: %v", err)}
		}
	}

	switch opts.Encoding {
	case EncodingBase64, "":
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid base64: %v", err)}
		}
		return raw, nil
	case EncodingBase58:
		raw, err := base58.Decode(payload)
		if err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid base58: %v", err)}
		}
		return raw, nil
	default:
		return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unsupported encoding %q", opts.Encoding)}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
