package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultIterationInterval is the default period of the voice receive-buffer
// courier drain (spec §4.4).
const defaultIterationInterval = 500 * time.Millisecond

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.MaxConnectRetries == 0 {
		cfg.Server.MaxConnectRetries = 3
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}
	if cfg.Voice.SendAudioType == "" {
		cfg.Voice.SendAudioType = SendAudioRecorded
	}
	if cfg.Voice.IterationInterval == 0 {
		cfg.Voice.IterationInterval = defaultIterationInterval
	}
	if cfg.Voice.AEADFailureThreshold == 0 {
		cfg.Voice.AEADFailureThreshold = 50
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("server.max_connect_retries %d must be non-negative", cfg.Server.MaxConnectRetries))
	}

	if cfg.Voice.SendAudioType != "" && !cfg.Voice.SendAudioType.IsValid() {
		errs = append(errs, fmt.Errorf("voice.send_audio_type %q is invalid; valid values: recorded, live, overlap", cfg.Voice.SendAudioType))
	}
	if cfg.Voice.IterationInterval < 0 {
		errs = append(errs, fmt.Errorf("voice.iteration_interval must be non-negative"))
	}
	if cfg.Voice.AEADFailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice.aead_failure_threshold %d must be non-negative", cfg.Voice.AEADFailureThreshold))
	}

	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile == "" {
		errs = append(errs, fmt.Errorf("tls.cert_file is set but tls.key_file is empty"))
	}
	if cfg.TLS.KeyFile != "" && cfg.TLS.CertFile == "" {
		errs = append(errs, fmt.Errorf("tls.key_file is set but tls.cert_file is empty"))
	}

	return errors.Join(errs...)
}
