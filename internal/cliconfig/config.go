package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Defaults.
const (
	DefaultRPCURL      = "http://127.0.0.1:8899"
	DefaultEngineURL   = "http://127.0.0.1:8999"
	DefaultTickSocket  = "/tmp/tickbridge-tick.sock"
	DefaultBatchSocket = "/tmp/tickbridge-batch.sock"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds CLI configuration for tickbridge.
type Config struct {
	RPCURL     string
	AuthRPCURL string
	AuthSecret string

	TickSocket  string
	BatchSocket string
	EngineAddr  string
	EngineURL   string
	// EngineAuth requires bearer tokens on the engine API, minted from
	// AuthSecret.
	EngineAuth bool
	// Upstream is the tick source the servers drive: "ipc:<path>" or an
	// engine URL.
	Upstream string

	MaxRetries      int
	PollInterval    time.Duration
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
	IOTimeout       time.Duration
	RPCRateLimit    float64
	TicksPerSlot    uint64

	LogLevel  string
	LogFormat string
	Metrics   bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		RPCURL:          DefaultRPCURL,
		TickSocket:      DefaultTickSocket,
		BatchSocket:     DefaultBatchSocket,
		EngineURL:       DefaultEngineURL,
		MaxRetries:      60,
		PollInterval:    100 * time.Millisecond,
		ConfirmTimeout:  10 * time.Second,
		ConfirmInterval: 10 * time.Millisecond,
		IOTimeout:       30 * time.Second,
		TicksPerSlot:    64,
		LogLevel:        "info",
		LogFormat:       LogFormatConsole,
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return invalid("rpc-url is required")
	}
	if c.AuthRPCURL == "" {
		c.AuthRPCURL = c.RPCURL
	}
	c.EngineURL = strings.TrimSuffix(c.EngineURL, "/")

	if c.MaxRetries <= 0 {
		return invalid("max-retries must be positive")
	}
	if c.PollInterval <= 0 {
		return invalid("poll interval must be positive")
	}
	if c.ConfirmTimeout <= 0 {
		return invalid("confirm timeout must be positive")
	}
	if c.ConfirmInterval <= 0 {
		return invalid("confirm interval must be positive")
	}
	if c.IOTimeout < 0 {
		return invalid("io timeout must not be negative")
	}
	if c.RPCRateLimit < 0 {
		return invalid("rpc rate limit must not be negative")
	}
	if c.TicksPerSlot == 0 {
		return invalid("ticks-per-slot must be positive")
	}
	if c.EngineAuth && c.AuthSecret == "" {
		return invalid("engine-auth needs auth-secret")
	}
	if c.TickSocket != "" && c.TickSocket == c.BatchSocket {
		return invalid("tick and batch sockets must differ")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return invalid("log level %q: %v", c.LogLevel, err)
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return invalid("log format must be %q or %q", LogFormatConsole, LogFormatJSON)
	}
	if c.Upstream != "" {
		up, err := ParseUpstream(c.Upstream)
		if err != nil {
			return err
		}
		if up.Kind == UpstreamIPC && up.Target == c.TickSocket {
			return invalid("upstream %q loops back to the tick socket", c.Upstream)
		}
	}
	return nil
}

// Masked returns a copy safe for logging.
func (c Config) Masked() Config {
	if c.AuthSecret != "" {
		c.AuthSecret = "*****"
	}
	return c
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// configSetter applies values from a lower-precedence source, skipping any
// setting whose flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) skip(flag, value string) bool {
	return value == "" || s.changed[flag]
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if s.skip(flag, value) {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setUint64(flag string, value uint64, dst *uint64) {
	if value == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses value; "0s" is applied so timeouts can be disabled.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if s.skip(flag, value) {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if s.skip(flag, value) {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

func (s *configSetter) setUint64FromString(flag, value string, dst *uint64) error {
	if s.skip(flag, value) {
		return nil
	}
	u, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setUint64(flag, u, dst)
	return nil
}

func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if s.skip(flag, value) {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setFloat(flag, f, dst)
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if s.skip(flag, value) {
		return
	}
	*dst = value == "true" || value == "1"
}
