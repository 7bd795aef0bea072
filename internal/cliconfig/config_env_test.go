package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all field types",
			envVars: map[string]string{
				"TICKBRIDGE_RPC_URL":          "http://rpc:8899",
				"TICKBRIDGE_AUTH_RPC_URL":     "http://rpc:8551",
				"TICKBRIDGE_AUTH_SECRET":      "abcd",
				"TICKBRIDGE_TICK_SOCKET":      "/run/tick.sock",
				"TICKBRIDGE_BATCH_SOCKET":     "/run/batch.sock",
				"TICKBRIDGE_ENGINE_ADDR":      ":8999",
				"TICKBRIDGE_ENGINE_URL":       "http://engine:8999",
				"TICKBRIDGE_ENGINE_AUTH":      "true",
				"TICKBRIDGE_UPSTREAM":         "ipc:/run/up.sock",
				"TICKBRIDGE_MAX_RETRIES":      "7",
				"TICKBRIDGE_POLL_INTERVAL":    "250ms",
				"TICKBRIDGE_CONFIRM_TIMEOUT":  "5s",
				"TICKBRIDGE_CONFIRM_INTERVAL": "20ms",
				"TICKBRIDGE_IO_TIMEOUT":       "1m",
				"TICKBRIDGE_RPC_RATE_LIMIT":   "12.5",
				"TICKBRIDGE_TICKS_PER_SLOT":   "8",
				"TICKBRIDGE_LOG_LEVEL":        "debug",
				"TICKBRIDGE_LOG_FORMAT":       "json",
				"TICKBRIDGE_METRICS":          "1",
			},
			changed: map[string]bool{},
			expected: Config{
				RPCURL:          "http://rpc:8899",
				AuthRPCURL:      "http://rpc:8551",
				AuthSecret:      "abcd",
				TickSocket:      "/run/tick.sock",
				BatchSocket:     "/run/batch.sock",
				EngineAddr:      ":8999",
				EngineURL:       "http://engine:8999",
				EngineAuth:      true,
				Upstream:        "ipc:/run/up.sock",
				MaxRetries:      7,
				PollInterval:    250 * time.Millisecond,
				ConfirmTimeout:  5 * time.Second,
				ConfirmInterval: 20 * time.Millisecond,
				IOTimeout:       time.Minute,
				RPCRateLimit:    12.5,
				TicksPerSlot:    8,
				LogLevel:        "debug",
				LogFormat:       "json",
				Metrics:         true,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"TICKBRIDGE_RPC_URL":     "http://env:8899",
				"TICKBRIDGE_MAX_RETRIES": "9",
			},
			changed:  map[string]bool{"rpc-url": true},
			initial:  Config{RPCURL: "http://flag:8899"},
			expected: Config{RPCURL: "http://flag:8899", MaxRetries: 9},
		},
		{
			name:     "zero io timeout disables it",
			envVars:  map[string]string{"TICKBRIDGE_IO_TIMEOUT": "0s"},
			changed:  map[string]bool{},
			initial:  Config{IOTimeout: 30 * time.Second},
			expected: Config{},
		},
		{
			name:     "bool false",
			envVars:  map[string]string{"TICKBRIDGE_METRICS": "false"},
			changed:  map[string]bool{},
			initial:  Config{Metrics: true},
			expected: Config{},
		},
		{
			name:    "invalid duration",
			envVars: map[string]string{"TICKBRIDGE_POLL_INTERVAL": "soon"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "invalid int",
			envVars: map[string]string{"TICKBRIDGE_MAX_RETRIES": "many"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "invalid uint",
			envVars: map[string]string{"TICKBRIDGE_TICKS_PER_SLOT": "-1"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "invalid float",
			envVars: map[string]string{"TICKBRIDGE_RPC_RATE_LIMIT": "fast"},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v\nwant %+v", cfg, tt.expected)
			}
		})
	}
}

// CLI flags beat env, env beats file.
func TestConfigPrecedence(t *testing.T) {
	retries := 3
	fileConf := FileConfig{
		RPCURL:       "http://file:8899",
		EngineURL:    "http://file:8999",
		MaxRetries:   retries,
		PollInterval: "1s",
	}

	t.Setenv("TICKBRIDGE_RPC_URL", "http://env:8899")
	t.Setenv("TICKBRIDGE_ENGINE_URL", "http://env:8999")

	changed := map[string]bool{"rpc-url": true}
	cfg := DefaultConfig()
	cfg.RPCURL = "http://cli:8899"

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.RPCURL != "http://cli:8899" {
		t.Errorf("RPCURL = %v, want cli value", cfg.RPCURL)
	}
	if cfg.EngineURL != "http://env:8999" {
		t.Errorf("EngineURL = %v, want env value", cfg.EngineURL)
	}
	if cfg.MaxRetries != 3 || cfg.PollInterval != time.Second {
		t.Errorf("retry policy = %d/%v, want file values", cfg.MaxRetries, cfg.PollInterval)
	}
	if cfg.TicksPerSlot != 64 {
		t.Errorf("TicksPerSlot = %v, want default", cfg.TicksPerSlot)
	}
}
