// Package config provides the configuration schema, loader, and hot-reload
// watcher for the chorus connection runtime.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for chorus.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Voice   VoiceConfig   `yaml:"voice"`
	DAVE    DAVEConfig    `yaml:"dave"`
	TLS     TLSConfig     `yaml:"tls"`
}

// GatewayConfig configures the command/event channel connection (spec
// §4.7, §6.1).
type GatewayConfig struct {
	// URL is the gateway websocket endpoint.
	URL string `yaml:"url"`

	// FallbackURLs are alternate gateway endpoints (other shards or
	// regions) tried in order if URL's dial keeps failing.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Token authenticates the identify frame.
	Token string `yaml:"token"`

	// Intents is the bitmask of event categories to subscribe to,
	// forwarded verbatim in the identify frame (spec §1 Non-goals: exact
	// field names and the intent bit layout are the platform's, not this
	// design's).
	Intents int `yaml:"intents"`
}

// ServerConfig holds network and logging settings shared by every
// connection the cluster opens.
type ServerConfig struct {
	// ListenAddr is the address the metrics/health HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// MaxConnectRetries bounds TCP connect retry attempts (spec §4.2, §5).
	// Zero selects the default of 3.
	MaxConnectRetries int `yaml:"max_connect_retries"`

	// RawTrace enables logging of every in/out byte region on a connection.
	// MUST default to false; intended for debugging only.
	RawTrace bool `yaml:"raw_trace"`

	// CachePolicy is an opaque string passed through to event routing. The
	// core does not interpret it.
	CachePolicy string `yaml:"cache_policy"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised logging levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// SendAudioType selects the RTP send pacing strategy (spec §4.4).
type SendAudioType string

const (
	SendAudioRecorded SendAudioType = "recorded"
	SendAudioLive     SendAudioType = "live"
	SendAudioOverlap  SendAudioType = "overlap"
)

// IsValid reports whether t is one of the recognised pacing strategies.
func (t SendAudioType) IsValid() bool {
	switch t {
	case SendAudioRecorded, SendAudioLive, SendAudioOverlap:
		return true
	default:
		return false
	}
}

// VoiceConfig configures voice-session behaviour (spec §6.5).
type VoiceConfig struct {
	// SendAudioType selects the pacing strategy for the RTP send loop.
	SendAudioType SendAudioType `yaml:"send_audio_type"`

	// IterationInterval is the period of the receive-buffer courier drain.
	// Zero selects the default of 500ms.
	IterationInterval time.Duration `yaml:"-"`

	// AEADFailureThreshold closes a voice session after this many
	// consecutive AEAD open failures (spec §9 Open Questions; suggested 50).
	AEADFailureThreshold int `yaml:"aead_failure_threshold"`
}

// voiceConfigAlias mirrors VoiceConfig but carries IterationInterval as a
// Go duration string (e.g. "250ms") since yaml.v3 does not know how to
// decode a bare time.Duration.
type voiceConfigAlias struct {
	SendAudioType        SendAudioType `yaml:"send_audio_type"`
	IterationInterval    string        `yaml:"iteration_interval"`
	AEADFailureThreshold int           `yaml:"aead_failure_threshold"`
}

// UnmarshalYAML decodes VoiceConfig, parsing iteration_interval as a Go
// duration string.
func (v *VoiceConfig) UnmarshalYAML(node *yaml.Node) error {
	var alias voiceConfigAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	v.SendAudioType = alias.SendAudioType
	v.AEADFailureThreshold = alias.AEADFailureThreshold
	if alias.IterationInterval != "" {
		d, err := time.ParseDuration(alias.IterationInterval)
		if err != nil {
			return err
		}
		v.IterationInterval = d
	}
	return nil
}

// MarshalYAML encodes VoiceConfig, rendering IterationInterval as a Go
// duration string.
func (v VoiceConfig) MarshalYAML() (interface{}, error) {
	return voiceConfigAlias{
		SendAudioType:        v.SendAudioType,
		IterationInterval:    v.IterationInterval.String(),
		AEADFailureThreshold: v.AEADFailureThreshold,
	}, nil
}

// DAVEConfig configures end-to-end voice encryption (spec §4.5).
type DAVEConfig struct {
	// Enable advertises and uses MLS-based E2EE for voice sessions.
	Enable bool `yaml:"enable"`
}

// TLSConfig configures the server-role TLS connection (spec §4.2).
type TLSConfig struct {
	// CertFile and KeyFile are PEM paths used when this process accepts
	// inbound TLS connections (e.g. a local voice-control test harness).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}
