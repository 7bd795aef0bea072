package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bft-labs/tickbridge"
	"github.com/bft-labs/tickbridge/internal/adapters/rpc"
	"github.com/bft-labs/tickbridge/internal/auth"
	"github.com/bft-labs/tickbridge/internal/cliconfig"
	"github.com/bft-labs/tickbridge/internal/engine"
	"github.com/bft-labs/tickbridge/internal/ipc"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/internal/tick"
	logAdapter "github.com/bft-labs/tickbridge/pkg/log"
	"github.com/bft-labs/tickbridge/plugins/configwatcher"
)

// rpcBurst is the token bucket depth used with --rpc-rate-limit.
const rpcBurst = 10

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tick, batch and engine servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve()
		},
	}
}

// upstreamDriver returns the TickDriver for target.
func (c *cli) upstreamDriver(target string, m *metrics.Metrics) (ports.TickDriver, error) {
	up, err := cliconfig.ParseUpstream(target)
	if err != nil {
		return nil, err
	}
	switch up.Kind {
	case cliconfig.UpstreamIPC:
		return tick.NewIPCDriver(ipc.NewClient(up.Target, c.cfg.IOTimeout), m), nil
	default:
		httpClient := &http.Client{Timeout: c.cfg.IOTimeout}
		return engine.NewDriver(engine.NewClient(up.Target, httpClient, c.engineOptions()...), m), nil
	}
}

func (c *cli) engineOptions() []engine.ClientOption {
	if !c.cfg.EngineAuth {
		return nil
	}
	return []engine.ClientOption{engine.WithToken(auth.NewMinter(c.cfg.AuthSecret))}
}

func (c *cli) rpcClient(m *metrics.Metrics) *rpc.Client {
	return rpc.New(c.cfg.RPCURL,
		rpc.WithAuthEndpoint(c.cfg.AuthRPCURL),
		rpc.WithRateLimit(c.cfg.RPCRateLimit, rpcBurst),
		rpc.WithMetrics(m),
		rpc.WithLogger(logAdapter.NewZerologAdapterWithLogger(c.log)),
	)
}

func (c *cli) serve() error {
	cfg := c.cfg
	if cfg.Upstream == "" {
		return errors.New("serve needs --upstream (ipc:<path> or an engine URL) to drive ticks")
	}
	c.log.Info().Interface("config", cfg.Masked()).Msg("configuration")

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		gatherer = reg
	}

	ticker, err := c.upstreamDriver(cfg.Upstream, m)
	if err != nil {
		return err
	}
	client := c.rpcClient(m)
	defer client.Close()
	logger := logAdapter.NewZerologAdapterWithLogger(c.log)

	deps := tickbridge.Deps{
		Ticker:     ticker,
		Querier:    client,
		Dispatcher: client,
		Metrics:    m,
		Gatherer:   gatherer,
	}
	if cfg.AuthSecret != "" {
		deps.Submitter = client
		deps.Minter = auth.NewMinter(cfg.AuthSecret)
	}

	var engineSecret string
	if cfg.EngineAuth {
		engineSecret = cfg.AuthSecret
	}

	h, err := tickbridge.NewHarness(tickbridge.HarnessConfig{
		TickSocket:       cfg.TickSocket,
		BatchSocket:      cfg.BatchSocket,
		EngineAddr:       cfg.EngineAddr,
		EngineAuthSecret: engineSecret,
		IOTimeout:        cfg.IOTimeout,
		TicksPerSlot:     cfg.TicksPerSlot,
		ConfigPath:       c.cfgFile,
		Policy:           tickbridge.RetryPolicy{MaxRetries: cfg.MaxRetries, PollInterval: cfg.PollInterval},
		ConfirmTimeout:   cfg.ConfirmTimeout,
		ConfirmInterval:  cfg.ConfirmInterval,
	}, deps,
		tickbridge.WithLogger(logger),
		configwatcher.WithDefaultConfigWatcher(),
	)
	if err != nil {
		return fmt.Errorf("create harness: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start harness: %w", err)
	}

	doneCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s := h.Status(); s == tickbridge.StateStopped || s == tickbridge.StateCrashed {
					close(doneCh)
					return
				}
			}
		}
	}()

	crashed := false
	select {
	case <-sigCh:
		c.log.Info().Msg("received signal, stopping...")
	case <-doneCh:
		crashed = h.Status() == tickbridge.StateCrashed
	}

	if err := h.Stop(); err != nil {
		return fmt.Errorf("stop harness: %w", err)
	}
	if crashed {
		return errors.New("harness crashed")
	}
	return nil
}
