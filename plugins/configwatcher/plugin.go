// Package configwatcher reloads the confirmation retry policy when the
// tickbridge config file changes.
package configwatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/tickbridge"
	"github.com/bft-labs/tickbridge/internal/cliconfig"
	"github.com/bft-labs/tickbridge/pkg/log"
)

// Plugin watches the config file and applies max_retries and poll_interval
// to the harness's live retry policy.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	onReload      func(tickbridge.RetryPolicy)

	path     string
	policy   tickbridge.PolicyStore
	logger   tickbridge.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is how long writes must settle before a reload.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// OnReload, if set, is called with every policy that was applied.
	OnReload func(tickbridge.RetryPolicy)
}

// DefaultConfig returns a Config with a 100ms debounce.
func DefaultConfig() Config {
	return Config{DebounceDelay: 100 * time.Millisecond}
}

// New creates a config watcher plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		onReload:      cfg.OnReload,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath. Without a config file the
// plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg tickbridge.PluginConfig) error {
	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	if cfg.ConfigPath == "" || cfg.Policy == nil {
		p.logger.Warn("config watcher disabled: no config file")
		return nil
	}
	p.path = filepath.Clean(cfg.ConfigPath)
	p.policy = cfg.Policy

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("config watcher started", log.String("path", p.path))
	return nil
}

// Shutdown stops the watcher and any pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.reload(); err != nil {
			p.logger.Warn("config reload failed, keeping current policy",
				log.String("path", p.path), log.Err(err))
		}
	})
}

// reload re-reads the file and applies its retry settings.
func (p *Plugin) reload() error {
	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		return err
	}
	cur := p.policy.Policy()
	next, err := policyFromFile(cur, fc)
	if err != nil {
		return err
	}
	if next == cur {
		p.logger.Debug("config changed, retry policy unchanged")
		return nil
	}

	p.policy.SetPolicy(next)
	p.logger.Info("retry policy reloaded",
		log.Int("max_retries", next.MaxRetries),
		log.Duration("poll_interval", next.PollInterval))
	if p.onReload != nil {
		p.onReload(next)
	}
	return nil
}

// policyFromFile overlays the file's retry settings on base. Absent settings
// keep base's values.
func policyFromFile(base tickbridge.RetryPolicy, fc cliconfig.FileConfig) (tickbridge.RetryPolicy, error) {
	next := base
	if fc.MaxRetries < 0 {
		return base, errors.New("max_retries must not be negative")
	}
	if fc.MaxRetries > 0 {
		next.MaxRetries = fc.MaxRetries
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return base, fmt.Errorf("poll_interval: %w", err)
		}
		if d <= 0 {
			return base, errors.New("poll_interval must be positive")
		}
		next.PollInterval = d
	}
	return next, nil
}
