package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
)

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: wss://voice.example.com
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level default: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.CaptureRate != config.DefaultCaptureRate {
		t.Errorf("capture rate default: got %d", cfg.Audio.CaptureRate)
	}
	if cfg.Audio.BlockSize != config.DefaultBlockSize {
		t.Errorf("block size default: got %d", cfg.Audio.BlockSize)
	}
	if cfg.Transport.BackoffBase.Std() != config.DefaultBackoffBase {
		t.Errorf("backoff base default: got %v", cfg.Transport.BackoffBase.Std())
	}
	if cfg.Transport.BackoffCap.Std() != config.DefaultBackoffCap {
		t.Errorf("backoff cap default: got %v", cfg.Transport.BackoffCap.Std())
	}
}

func TestLoadFromReader_ParsesDurations(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost:8080
transport:
  backoff_base: 100ms
  backoff_cap: 2s
  ping_interval: 30s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.BackoffBase.Std() != 100*time.Millisecond {
		t.Errorf("backoff base: got %v, want 100ms", cfg.Transport.BackoffBase.Std())
	}
	if cfg.Transport.BackoffCap.Std() != 2*time.Second {
		t.Errorf("backoff cap: got %v, want 2s", cfg.Transport.BackoffCap.Std())
	}
	if cfg.Transport.PingInterval.Std() != 30*time.Second {
		t.Errorf("ping interval: got %v, want 30s", cfg.Transport.PingInterval.Std())
	}
}

func TestValidate_EndpointRequired(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  capture_rate: 16000\n"))
	if err == nil {
		t.Fatal("expected error for missing endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("error should mention endpoint, got: %v", err)
	}
}

func TestValidate_EndpointScheme(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: https://voice.example.com
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket scheme, got nil")
	}
	if !strings.Contains(err.Error(), "scheme") {
		t.Errorf("error should mention scheme, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_AudioRanges(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost
audio:
  capture_rate: 4000
  block_size: 64
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for out-of-range audio values, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "capture_rate") {
		t.Errorf("error should mention capture_rate, got: %v", err)
	}
	if !strings.Contains(errStr, "block_size") {
		t.Errorf("error should mention block_size, got: %v", err)
	}
}

func TestValidate_BackoffCapBelowBase(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost
transport:
  backoff_base: 1s
  backoff_cap: 500ms
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for cap below base, got nil")
	}
	if !strings.Contains(err.Error(), "backoff_cap") {
		t.Errorf("error should mention backoff_cap, got: %v", err)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost
  liste_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  endpoint: ws://localhost
transport:
  backoff_base: fast
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
}

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("VOXWIRE_ENDPOINT", "wss://override.example.com")
	t.Setenv("VOXWIRE_SESSION_ID", "env-session")

	yaml := `
server:
  endpoint: wss://voice.example.com
  session_id: file-session
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Endpoint != "wss://override.example.com" {
		t.Errorf("endpoint: got %q, want env override", cfg.Server.Endpoint)
	}
	if cfg.Server.SessionID != "env-session" {
		t.Errorf("session id: got %q, want env override", cfg.Server.SessionID)
	}
}
