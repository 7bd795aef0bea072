package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies values",
			fileConfig: FileConfig{
				RPCURL:         "http://rpc:8899",
				AuthSecret:     "beef",
				TickSocket:     "/run/tick.sock",
				MaxRetries:     10,
				PollInterval:   "50ms",
				ConfirmTimeout: "3s",
				IOTimeout:      "0s",
				RPCRateLimit:   4,
				TicksPerSlot:   16,
				LogFormat:      "json",
				Metrics:        &trueVal,
			},
			changed: map[string]bool{},
			initial: Config{IOTimeout: time.Second},
			expected: Config{
				RPCURL:         "http://rpc:8899",
				AuthSecret:     "beef",
				TickSocket:     "/run/tick.sock",
				MaxRetries:     10,
				PollInterval:   50 * time.Millisecond,
				ConfirmTimeout: 3 * time.Second,
				RPCRateLimit:   4,
				TicksPerSlot:   16,
				LogFormat:      "json",
				Metrics:        true,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				RPCURL:     "http://file:8899",
				MaxRetries: 10,
			},
			changed:  map[string]bool{"max-retries": true},
			initial:  Config{MaxRetries: 2},
			expected: Config{RPCURL: "http://file:8899", MaxRetries: 2},
		},
		{
			name:     "empty values leave defaults",
			changed:  map[string]bool{},
			initial:  Config{MaxRetries: 60, PollInterval: time.Second},
			expected: Config{MaxRetries: 60, PollInterval: time.Second},
		},
		{
			name:       "invalid duration",
			fileConfig: FileConfig{ConfirmInterval: "fortnight"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v\nwant %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	tomlContent := `
rpc_url = "http://127.0.0.1:8899"
auth_secret = "00112233"
upstream = "ipc:/tmp/tick.sock"
max_retries = 30
poll_interval = "200ms"
rpc_rate_limit = 2.5
ticks_per_slot = 32
metrics = true
`
	if err := os.WriteFile(configPath, []byte(tomlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.RPCURL != "http://127.0.0.1:8899" {
		t.Errorf("RPCURL = %v", fc.RPCURL)
	}
	if fc.AuthSecret != "00112233" {
		t.Errorf("AuthSecret = %v", fc.AuthSecret)
	}
	if fc.Upstream != "ipc:/tmp/tick.sock" {
		t.Errorf("Upstream = %v", fc.Upstream)
	}
	if fc.MaxRetries != 30 || fc.PollInterval != "200ms" {
		t.Errorf("retry = %d/%s", fc.MaxRetries, fc.PollInterval)
	}
	if fc.RPCRateLimit != 2.5 {
		t.Errorf("RPCRateLimit = %v", fc.RPCRateLimit)
	}
	if fc.TicksPerSlot != 32 {
		t.Errorf("TicksPerSlot = %v", fc.TicksPerSlot)
	}
	if fc.Metrics == nil || !*fc.Metrics {
		t.Errorf("Metrics = %v, want true", fc.Metrics)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	if _, err := LoadFileConfig("/nonexistent/path/config.toml"); err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.toml")
	if err := os.WriteFile(configPath, []byte("rpc_url = \nnot toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFileConfig(configPath); err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if path != "" && !strings.HasSuffix(path, filepath.Join(".tickbridge", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %v", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")
	if err := os.WriteFile(existingFile, []byte("test"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}
	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
