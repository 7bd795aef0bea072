// Package app wires the tick and batch IPC servers and the engine control
// server into a harness with a start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/tickbridge/internal/bridge"
	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/engine"
	"github.com/bft-labs/tickbridge/internal/ipc"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

// Config selects which servers a harness runs. An empty address disables
// the corresponding server.
type Config struct {
	TickSocket   string
	BatchSocket  string
	EngineAddr   string
	IOTimeout    time.Duration
	TicksPerSlot uint64

	// EngineAuthSecret, when set, makes the engine server require bearer
	// tokens minted from it.
	EngineAuthSecret string

	// ConfigPath is handed to plugins; empty when running without a file.
	ConfigPath string

	Policy          bridge.RetryPolicy
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
}

// Deps are the collaborators a harness drives.
type Deps struct {
	Ticker     ports.TickDriver
	Querier    ports.ChainQuerier
	Dispatcher ports.TxDispatcher
	Submitter  ports.AuthSubmitter
	Minter     ports.TokenMinter
	Logger     ports.Logger
	Metrics    *metrics.Metrics
	// Gatherer, when set, is served on the engine server's /metrics.
	Gatherer prometheus.Gatherer
	Plugins  []Plugin
	Observer StateObserver
}

// PolicyStore holds the live retry policy.
type PolicyStore interface {
	Policy() bridge.RetryPolicy
	SetPolicy(bridge.RetryPolicy)
}

// PluginConfig is passed to plugins on Start.
type PluginConfig struct {
	ConfigPath string
	Logger     ports.Logger
	Policy     PolicyStore
}

// Plugin extends a harness. Plugins are initialized in registration order
// and shut down in reverse order.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

type server struct {
	name   string
	listen func() error
	serve  func(context.Context) error
	close  func(context.Context) error
}

// Harness runs the configured servers.
type Harness struct {
	cfg       Config
	deps      Deps
	logger    ports.Logger
	lifecycle *Lifecycle
	bridge    *bridge.Bridge
	confirmer *bridge.Confirmer

	mu      sync.Mutex
	cancel  context.CancelFunc
	servers []server
}

// NewHarness validates cfg against deps and builds a stopped harness.
func NewHarness(cfg Config, deps Deps) (*Harness, error) {
	if deps.Ticker == nil {
		return nil, fmt.Errorf("%w: tick driver is required", domain.ErrInvalidConfig)
	}
	if (cfg.BatchSocket != "" || cfg.EngineAddr != "") && (deps.Querier == nil || deps.Dispatcher == nil) {
		return nil, fmt.Errorf("%w: batch and engine servers need an rpc client", domain.ErrInvalidConfig)
	}
	if cfg.TickSocket == "" && cfg.BatchSocket == "" && cfg.EngineAddr == "" {
		return nil, fmt.Errorf("%w: no server configured", domain.ErrInvalidConfig)
	}
	if cfg.TickSocket != "" && cfg.TickSocket == cfg.BatchSocket {
		return nil, fmt.Errorf("%w: tick and batch sockets must differ", domain.ErrInvalidConfig)
	}
	if cfg.Policy.MaxRetries <= 0 {
		cfg.Policy = bridge.DefaultRetryPolicy()
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	h := &Harness{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		lifecycle: NewLifecycle(logger, deps.Observer),
	}
	if deps.Querier != nil && deps.Dispatcher != nil {
		h.bridge = bridge.New(deps.Querier, deps.Dispatcher,
			bridge.WithConfirmTimeout(cfg.ConfirmTimeout),
			bridge.WithConfirmInterval(cfg.ConfirmInterval),
			bridge.WithLogger(logger),
			bridge.WithMetrics(deps.Metrics),
		)
	}
	if deps.Querier != nil && deps.Submitter != nil && deps.Minter != nil {
		h.confirmer = bridge.NewConfirmer(deps.Minter, deps.Submitter, deps.Querier, deps.Ticker,
			bridge.WithPolicy(cfg.Policy),
			bridge.WithConfirmerLogger(logger),
			bridge.WithConfirmerMetrics(deps.Metrics),
		)
	}
	return h, nil
}

// Bridge returns the submission engine, or nil without an rpc client.
func (h *Harness) Bridge() *bridge.Bridge { return h.bridge }

// Confirmer returns the authenticated confirmation loop, or nil when no
// submitter or minter was supplied.
func (h *Harness) Confirmer() *bridge.Confirmer { return h.confirmer }

// Status returns the lifecycle state.
func (h *Harness) Status() State { return h.lifecycle.State() }

// policy returns the live policy store. Without a confirmer the policy is
// held locally so reloads still reach the engine server.
func (h *Harness) policy() PolicyStore {
	if h.confirmer != nil {
		return h.confirmer
	}
	return &staticPolicy{p: h.cfg.Policy}
}

func (h *Harness) buildServers(policy PolicyStore) []server {
	var out []server
	if h.cfg.TickSocket != "" {
		s := ipc.NewServer(ipc.ServerConfig{
			SocketPath: h.cfg.TickSocket,
			Role:       ipc.RoleTick,
			IOTimeout:  h.cfg.IOTimeout,
		}, ipc.TickHandler(h.deps.Ticker), ipc.WithLogger(h.logger), ipc.WithMetrics(h.deps.Metrics))
		out = append(out, server{
			name:   "tick-ipc",
			listen: s.Listen,
			serve:  s.Serve,
			close:  func(context.Context) error { return s.Close() },
		})
	}
	if h.cfg.BatchSocket != "" {
		s := ipc.NewServer(ipc.ServerConfig{
			SocketPath: h.cfg.BatchSocket,
			Role:       ipc.RoleBatch,
			IOTimeout:  h.cfg.IOTimeout,
		}, ipc.BatchHandler(h.bridge, h.logger), ipc.WithLogger(h.logger), ipc.WithMetrics(h.deps.Metrics))
		out = append(out, server{
			name:   "batch-ipc",
			listen: s.Listen,
			serve:  s.Serve,
			close:  func(context.Context) error { return s.Close() },
		})
	}
	if h.cfg.EngineAddr != "" {
		s := engine.NewServer(engine.Config{Addr: h.cfg.EngineAddr, TicksPerSlot: h.cfg.TicksPerSlot},
			h.deps.Ticker, h.deps.Querier, h.deps.Dispatcher,
			engine.WithLogger(h.logger),
			engine.WithMetrics(h.deps.Metrics, h.deps.Gatherer),
			engine.WithPolicySource(policy.Policy),
			engine.WithAuthSecret(h.cfg.EngineAuthSecret),
		)
		out = append(out, server{
			name:   "engine",
			listen: s.Listen,
			serve:  s.Serve,
			close:  s.Shutdown,
		})
	}
	return out
}

// Start initializes plugins, binds every configured server and serves them
// in the background. A bind failure stops anything already bound and leaves
// the harness crashed.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := h.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	policy := h.policy()

	pluginCfg := PluginConfig{ConfigPath: h.cfg.ConfigPath, Logger: h.logger, Policy: policy}
	for i, p := range h.deps.Plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			h.logger.Error("plugin initialization failed", ports.String("plugin", p.Name()), ports.Err(err))
			h.shutdownPlugins(h.deps.Plugins[:i])
			cancel()
			_ = h.lifecycle.TransitionTo(StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		h.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	servers := h.buildServers(policy)
	for i, s := range servers {
		if err := s.listen(); err != nil {
			h.closeServers(servers[:i])
			h.shutdownPlugins(h.deps.Plugins)
			cancel()
			_ = h.lifecycle.TransitionTo(StateCrashed, s.name+" listen failed")
			return err
		}
	}
	h.servers = servers

	for _, s := range servers {
		h.lifecycle.Go(runCtx, s.name, s.serve, cancel)
	}
	return h.lifecycle.TransitionTo(StateRunning, "servers listening")
}

// Stop closes every server, waits up to ShutdownTimeout for in-flight
// requests and shuts plugins down. It returns domain.ErrShutdownTimeout if
// servers did not drain in time.
func (h *Harness) Stop() error {
	h.mu.Lock()
	if !h.lifecycle.CanStop() {
		h.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := h.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		h.mu.Unlock()
		return err
	}
	if h.cancel != nil {
		h.cancel()
	}
	servers := h.servers
	h.servers = nil
	h.mu.Unlock()

	h.closeServers(servers)
	err := h.lifecycle.WaitWithTimeout(ShutdownTimeout)
	h.shutdownPlugins(h.deps.Plugins)

	if err != nil {
		_ = h.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
		return err
	}
	_ = h.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	return nil
}

func (h *Harness) closeServers(servers []server) {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].close(ctx); err != nil {
			h.logger.Warn("server close failed", ports.String("server", servers[i].name), ports.Err(err))
		}
	}
}

func (h *Harness) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			h.logger.Error("plugin shutdown failed", ports.String("plugin", p.Name()), ports.Err(err))
			continue
		}
		h.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
	}
}

type staticPolicy struct {
	mu sync.RWMutex
	p  bridge.RetryPolicy
}

func (s *staticPolicy) Policy() bridge.RetryPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *staticPolicy) SetPolicy(p bridge.RetryPolicy) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}
