package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/driftglass/chorus/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  max_connect_retries: 5
  cache_policy: sticky-session

voice:
  send_audio_type: live
  iteration_interval: 250ms
  aead_failure_threshold: 10

dave:
  enable: true

tls:
  cert_file: /etc/chorus/tls.crt
  key_file: /etc/chorus/tls.key
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Server.MaxConnectRetries != 5 {
		t.Errorf("server.max_connect_retries: got %d, want 5", cfg.Server.MaxConnectRetries)
	}
	if cfg.Server.CachePolicy != "sticky-session" {
		t.Errorf("server.cache_policy: got %q", cfg.Server.CachePolicy)
	}
	if cfg.Voice.SendAudioType != config.SendAudioLive {
		t.Errorf("voice.send_audio_type: got %q, want %q", cfg.Voice.SendAudioType, config.SendAudioLive)
	}
	if cfg.Voice.IterationInterval != 250*time.Millisecond {
		t.Errorf("voice.iteration_interval: got %v, want 250ms", cfg.Voice.IterationInterval)
	}
	if cfg.Voice.AEADFailureThreshold != 10 {
		t.Errorf("voice.aead_failure_threshold: got %d, want 10", cfg.Voice.AEADFailureThreshold)
	}
	if !cfg.DAVE.Enable {
		t.Error("dave.enable: got false, want true")
	}
	if cfg.TLS.CertFile != "/etc/chorus/tls.crt" {
		t.Errorf("tls.cert_file: got %q", cfg.TLS.CertFile)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Server.MaxConnectRetries != 3 {
		t.Errorf("default max_connect_retries: got %d, want 3", cfg.Server.MaxConnectRetries)
	}
	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("default log_level: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Voice.SendAudioType != config.SendAudioRecorded {
		t.Errorf("default send_audio_type: got %q, want %q", cfg.Voice.SendAudioType, config.SendAudioRecorded)
	}
	if cfg.Voice.IterationInterval != 500*time.Millisecond {
		t.Errorf("default iteration_interval: got %v, want 500ms", cfg.Voice.IterationInterval)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidSendAudioType(t *testing.T) {
	yaml := `
voice:
  send_audio_type: turbo
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid send_audio_type, got nil")
	}
	if !strings.Contains(err.Error(), "send_audio_type") {
		t.Errorf("error should mention send_audio_type, got: %v", err)
	}
}

func TestValidate_NegativeMaxConnectRetries(t *testing.T) {
	yaml := `
server:
  max_connect_retries: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_connect_retries, got nil")
	}
}

func TestValidate_TLSCertWithoutKey(t *testing.T) {
	yaml := `
tls:
  cert_file: /etc/chorus/tls.crt
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for cert without key, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	valid := []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel %q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("LogLevel \"trace\" should not be valid")
	}
}
