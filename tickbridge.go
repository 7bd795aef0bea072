// Package tickbridge lets a validator's block producer be driven from
// outside: test harnesses trigger ticks, submit batches of transactions
// and wait for confirmation over unix sockets or an HTTP control API.
//
// Embedders wire a tick source and an RPC client into a harness:
//
//	ch := tickbridge.NewChannels()
//	go ch.Serve(ctx, produceBlock)
//
//	h, err := tickbridge.NewHarness(tickbridge.HarnessConfig{
//	    TickSocket:  "/tmp/tick.sock",
//	    BatchSocket: "/tmp/batch.sock",
//	}, tickbridge.Deps{
//	    Ticker:     tickbridge.NewLocalDriver(ch),
//	    Querier:    rpcClient,
//	    Dispatcher: rpcClient,
//	}, tickbridge.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
package tickbridge

import (
	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/app"
	"github.com/bft-labs/tickbridge/internal/bridge"
	"github.com/bft-labs/tickbridge/internal/codec"
	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/internal/tick"
)

type (
	// HarnessConfig selects which servers a Harness runs.
	HarnessConfig = app.Config
	// Deps are the collaborators a Harness drives.
	Deps = app.Deps
	// Harness runs the tick, batch and engine servers.
	Harness = app.Harness
	// State is a Harness lifecycle state.
	State = app.State
	// StateObserver is called on every lifecycle transition.
	StateObserver = app.StateObserver

	// Plugin extends a Harness.
	Plugin = app.Plugin
	// PluginConfig is handed to plugins on Start.
	PluginConfig = app.PluginConfig
	// PolicyStore holds the live retry policy.
	PolicyStore = app.PolicyStore

	// RetryPolicy bounds the authenticated confirmation loop.
	RetryPolicy = bridge.RetryPolicy
	// Channels is the in-process tick rendezvous handle.
	Channels = tick.Channels
	// TickDriver triggers one tick and waits for it.
	TickDriver = ports.TickDriver

	// Logger is the structured logger used throughout.
	Logger = ports.Logger
	// LogField is a structured log field.
	LogField = ports.Field

	// Status is a transaction's observed confirmation state.
	Status = domain.Status
	// TransferWithMemo is a recognized transfer-plus-memo transaction.
	TransferWithMemo = domain.TransferWithMemo
)

// Lifecycle states.
const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)

// Errors callers can match with errors.Is.
var (
	ErrAlreadyRunning      = domain.ErrAlreadyRunning
	ErrNotRunning          = domain.ErrNotRunning
	ErrInvalidConfig       = domain.ErrInvalidConfig
	ErrTickChannelClosed   = domain.ErrTickChannelClosed
	ErrConfirmationTimeout = domain.ErrConfirmationTimeout
	ErrTransactionRejected = domain.ErrTransactionRejected
	ErrInvalidAddress      = domain.ErrInvalidAddress
)

// Option adjusts the Deps of a Harness.
type Option func(*Deps)

// WithLogger sets the harness logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(d *Deps) { d.Logger = logger }
}

// WithObserver registers a lifecycle observer.
func WithObserver(fn StateObserver) Option {
	return func(d *Deps) { d.Observer = fn }
}

// WithPlugin registers a plugin. Plugins are initialized in registration
// order and shut down in reverse order.
func WithPlugin(p Plugin) Option {
	return func(d *Deps) { d.Plugins = append(d.Plugins, p) }
}

// NewHarness builds a stopped Harness.
func NewHarness(cfg HarnessConfig, deps Deps, opts ...Option) (*Harness, error) {
	for _, opt := range opts {
		opt(&deps)
	}
	return app.NewHarness(cfg, deps)
}

// NewChannels returns an open tick rendezvous handle.
func NewChannels() *Channels {
	return tick.NewChannels()
}

// NewLocalDriver returns a TickDriver over ch.
func NewLocalDriver(ch *Channels) TickDriver {
	return tick.NewLocalDriver(ch, nil)
}

// DefaultRetryPolicy returns 60 polls at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return bridge.DefaultRetryPolicy()
}

// ParseTransferWithMemo recognizes a transfer followed by an address memo.
// It returns nil, nil when tx has a different shape.
func ParseTransferWithMemo(tx *solana.Transaction) (*TransferWithMemo, error) {
	return codec.ParseTransferWithMemo(tx)
}

// BuildTransferWithMemo builds and signs a transfer from signer to
// destination carrying address as its memo.
func BuildTransferWithMemo(signer solana.PrivateKey, destination solana.PublicKey, lamports uint64, address string, recentBlockhash solana.Hash) (*solana.Transaction, error) {
	return codec.BuildTransferWithMemo(signer, destination, lamports, address, recentBlockhash)
}

// NormalizeAddress validates a 40-hex-character address and returns it
// 0x-prefixed.
func NormalizeAddress(addr string) (string, error) {
	return codec.NormalizeAddress(addr)
}
