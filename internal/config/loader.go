package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override connection fields
// without editing the file. VOXWIRE_ENDPOINT and VOXWIRE_SESSION_ID take
// precedence over the YAML values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXWIRE_ENDPOINT"); v != "" {
		cfg.Server.Endpoint = v
	}
	if v := os.Getenv("VOXWIRE_SESSION_ID"); v != "" {
		cfg.Server.SessionID = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Endpoint == "" {
		errs = append(errs, errors.New("server.endpoint is required"))
	} else {
		u, err := url.Parse(cfg.Server.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("server.endpoint %q is not a valid URL: %w", cfg.Server.Endpoint, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("server.endpoint scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.CaptureRate < 8000 || cfg.Audio.CaptureRate > 96000 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d is out of range [8000, 96000]", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 8000 || cfg.Audio.PlaybackRate > 96000 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d is out of range [8000, 96000]", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.BlockSize < 128 || cfg.Audio.BlockSize > 16384 {
		errs = append(errs, fmt.Errorf("audio.block_size %d is out of range [128, 16384]", cfg.Audio.BlockSize))
	}
	if cfg.Audio.LevelReference < 0 || cfg.Audio.LevelReference > 1 {
		errs = append(errs, fmt.Errorf("audio.level_reference %.2f is out of range [0, 1]", cfg.Audio.LevelReference))
	}

	if cfg.Transport.BackoffBase <= 0 {
		errs = append(errs, errors.New("transport.backoff_base must be positive"))
	}
	if cfg.Transport.BackoffCap < cfg.Transport.BackoffBase {
		errs = append(errs, fmt.Errorf("transport.backoff_cap %v is below transport.backoff_base %v",
			cfg.Transport.BackoffCap.Std(), cfg.Transport.BackoffBase.Std()))
	}
	if cfg.Transport.PingInterval <= 0 {
		errs = append(errs, errors.New("transport.ping_interval must be positive"))
	}

	return errors.Join(errs...)
}
