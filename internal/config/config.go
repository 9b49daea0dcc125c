// Package config provides the configuration schema and loader for the
// voxwire streaming client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML decoding from strings like "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for the voxwire client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the voice backend endpoint and logging settings.
type ServerConfig struct {
	// Endpoint is the base WebSocket URL of the voice backend
	// (e.g., "wss://voice.example.com"). The session id is appended as a
	// path segment when connecting.
	Endpoint string `yaml:"endpoint"`

	// SessionID pins the logical session identifier. When empty a random
	// identifier is generated at startup; a new one is a new session.
	SessionID string `yaml:"session_id"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds capture and playback parameters.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Outbound frames are
	// raw little-endian 16-bit mono PCM at this rate.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the output device sample rate in Hz. Inbound frames
	// at other rates are resampled to it.
	PlaybackRate int `yaml:"playback_rate"`

	// BlockSize is the number of samples per capture block.
	BlockSize int `yaml:"block_size"`

	// LevelReference is the RMS amplitude mapped to a full-scale input
	// level estimate for metering.
	LevelReference float64 `yaml:"level_reference"`
}

// TransportConfig tunes the socket lifecycle.
type TransportConfig struct {
	// BackoffBase is the first reconnect delay; each further attempt
	// doubles it up to BackoffCap.
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffCap bounds the reconnect delay.
	BackoffCap Duration `yaml:"backoff_cap"`

	// PingInterval is the keepalive ping period.
	PingInterval Duration `yaml:"ping_interval"`
}

// MetricsConfig configures the local observability endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address serving Prometheus metrics
	// (e.g., ":9464"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Defaults for fields left unset in the YAML file.
const (
	DefaultCaptureRate    = 16000
	DefaultPlaybackRate   = 24000
	DefaultBlockSize      = 2048
	DefaultLevelReference = 0.1
	DefaultBackoffBase    = 250 * time.Millisecond
	DefaultBackoffCap     = 5 * time.Second
	DefaultPingInterval   = 20 * time.Second
)

// applyDefaults fills zero-valued fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.LevelReference == 0 {
		cfg.Audio.LevelReference = DefaultLevelReference
	}
	if cfg.Transport.BackoffBase == 0 {
		cfg.Transport.BackoffBase = Duration(DefaultBackoffBase)
	}
	if cfg.Transport.BackoffCap == 0 {
		cfg.Transport.BackoffCap = Duration(DefaultBackoffCap)
	}
	if cfg.Transport.PingInterval == 0 {
		cfg.Transport.PingInterval = Duration(DefaultPingInterval)
	}
}
