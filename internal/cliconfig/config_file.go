package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with string durations for TOML.
type FileConfig struct {
	RPCURL          string  `toml:"rpc_url"`
	AuthRPCURL      string  `toml:"auth_rpc_url"`
	AuthSecret      string  `toml:"auth_secret"`
	TickSocket      string  `toml:"tick_socket"`
	BatchSocket     string  `toml:"batch_socket"`
	EngineAddr      string  `toml:"engine_addr"`
	EngineURL       string  `toml:"engine_url"`
	EngineAuth      *bool   `toml:"engine_auth"`
	Upstream        string  `toml:"upstream"`
	MaxRetries      int     `toml:"max_retries"`
	PollInterval    string  `toml:"poll_interval"`
	ConfirmTimeout  string  `toml:"confirm_timeout"`
	ConfirmInterval string  `toml:"confirm_interval"`
	IOTimeout       string  `toml:"io_timeout"`
	RPCRateLimit    float64 `toml:"rpc_rate_limit"`
	TicksPerSlot    uint64  `toml:"ticks_per_slot"`
	LogLevel        string  `toml:"log_level"`
	LogFormat       string  `toml:"log_format"`
	Metrics         *bool   `toml:"metrics"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.tickbridge/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tickbridge", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, leaving explicitly set flags alone.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("rpc-url", fc.RPCURL, &cfg.RPCURL)
	s.setString("auth-rpc-url", fc.AuthRPCURL, &cfg.AuthRPCURL)
	s.setString("auth-secret", fc.AuthSecret, &cfg.AuthSecret)
	s.setString("tick-socket", fc.TickSocket, &cfg.TickSocket)
	s.setString("batch-socket", fc.BatchSocket, &cfg.BatchSocket)
	s.setString("engine-addr", fc.EngineAddr, &cfg.EngineAddr)
	s.setString("engine-url", fc.EngineURL, &cfg.EngineURL)
	s.setString("upstream", fc.Upstream, &cfg.Upstream)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	for _, d := range []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"poll-interval", fc.PollInterval, &cfg.PollInterval},
		{"confirm-timeout", fc.ConfirmTimeout, &cfg.ConfirmTimeout},
		{"confirm-interval", fc.ConfirmInterval, &cfg.ConfirmInterval},
		{"io-timeout", fc.IOTimeout, &cfg.IOTimeout},
	} {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries)
	s.setUint64("ticks-per-slot", fc.TicksPerSlot, &cfg.TicksPerSlot)
	s.setFloat("rpc-rate-limit", fc.RPCRateLimit, &cfg.RPCRateLimit)
	s.setBool("metrics", fc.Metrics, &cfg.Metrics)
	s.setBool("engine-auth", fc.EngineAuth, &cfg.EngineAuth)

	return nil
}

// FileExists reports whether a file exists at p.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
