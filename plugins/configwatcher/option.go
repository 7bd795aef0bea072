package configwatcher

import "github.com/bft-labs/tickbridge"

// WithConfigWatcher returns a harness Option that reloads the retry policy
// when the harness's config file changes.
//
// Usage:
//
//	h, err := tickbridge.NewHarness(cfg, deps,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 250 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) tickbridge.Option {
	return tickbridge.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher enables config watching with a 100ms debounce.
func WithDefaultConfigWatcher() tickbridge.Option {
	return WithConfigWatcher(DefaultConfig())
}
