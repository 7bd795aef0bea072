package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "TICKBRIDGE_"

// ApplyEnvConfig applies TICKBRIDGE_* environment variables to cfg, leaving
// explicitly set flags alone. It fails on malformed numbers or durations.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("rpc-url", env("RPC_URL"), &cfg.RPCURL)
	s.setString("auth-rpc-url", env("AUTH_RPC_URL"), &cfg.AuthRPCURL)
	s.setString("auth-secret", env("AUTH_SECRET"), &cfg.AuthSecret)
	s.setString("tick-socket", env("TICK_SOCKET"), &cfg.TickSocket)
	s.setString("batch-socket", env("BATCH_SOCKET"), &cfg.BatchSocket)
	s.setString("engine-addr", env("ENGINE_ADDR"), &cfg.EngineAddr)
	s.setString("engine-url", env("ENGINE_URL"), &cfg.EngineURL)
	s.setString("upstream", env("UPSTREAM"), &cfg.Upstream)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)

	if err := s.setDuration("poll-interval", env("POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("confirm-timeout", env("CONFIRM_TIMEOUT"), &cfg.ConfirmTimeout); err != nil {
		return err
	}
	if err := s.setDuration("confirm-interval", env("CONFIRM_INTERVAL"), &cfg.ConfirmInterval); err != nil {
		return err
	}
	if err := s.setDuration("io-timeout", env("IO_TIMEOUT"), &cfg.IOTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("max-retries", env("MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setUint64FromString("ticks-per-slot", env("TICKS_PER_SLOT"), &cfg.TicksPerSlot); err != nil {
		return err
	}
	if err := s.setFloatFromString("rpc-rate-limit", env("RPC_RATE_LIMIT"), &cfg.RPCRateLimit); err != nil {
		return err
	}

	s.setBoolFromString("metrics", env("METRICS"), &cfg.Metrics)
	s.setBoolFromString("engine-auth", env("ENGINE_AUTH"), &cfg.EngineAuth)
	return nil
}
