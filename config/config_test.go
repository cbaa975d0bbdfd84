package config_test

import (
	"testing"

	"github.com/touka-aoi/clipsock/config"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"DEBUG", "CLIPSOCK_LOG_FORMAT", "CLIPSOCK_LISTEN_ADDRESS", "CLIPSOCK_HEALTH_ADDRESS", "CLIPSOCK_SINK", "CLIPSOCK_HISTORY_SIZE", "CLIPSOCK_CONSOLE"} {
		t.Setenv(key, "")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ListenAddress != config.DefaultListenAddress {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.Sink != config.SinkClipboard || cfg.HistorySize != 16 || cfg.Debug || cfg.Console {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LockFile == "" {
		t.Error("LockFile must have a default")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("CLIPSOCK_LISTEN_ADDRESS", "[::1]:6000")
	t.Setenv("CLIPSOCK_SINK", "MEMORY")
	t.Setenv("CLIPSOCK_HISTORY_SIZE", "4")
	t.Setenv("CLIPSOCK_HEALTH_ADDRESS", "127.0.0.1:8080")
	t.Setenv("CLIPSOCK_CONSOLE", "1")
	t.Setenv("CLIPSOCK_LOG_FORMAT", "json")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !cfg.Debug || !cfg.Console {
		t.Errorf("Debug=%v Console=%v", cfg.Debug, cfg.Console)
	}
	if cfg.ListenAddress != "[::1]:6000" || cfg.HealthAddress != "127.0.0.1:8080" {
		t.Errorf("addresses = %q %q", cfg.ListenAddress, cfg.HealthAddress)
	}
	if cfg.Sink != config.SinkMemory || cfg.HistorySize != 4 || cfg.LogFormat != "json" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"CLIPSOCK_SINK":         "printer",
		"CLIPSOCK_HISTORY_SIZE": "0",
		"CLIPSOCK_LOG_FORMAT":   "xml",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := config.LoadFromEnv(); err == nil {
				t.Fatalf("%s=%s must be rejected", key, value)
			}
		})
	}
}
