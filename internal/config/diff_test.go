package config_test

import (
	"testing"

	"github.com/driftglass/chorus/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo, CachePolicy: "sticky"},
		Voice:  config.VoiceConfig{SendAudioType: config.SendAudioRecorded},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.CachePolicyChanged || d.MaxConnectRetriesChanged || d.DAVEEnableChanged || d.SendAudioTypeChanged {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_CachePolicyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{CachePolicy: "a"}}
	new := &config.Config{Server: config.ServerConfig{CachePolicy: "b"}}

	d := config.Diff(old, new)
	if !d.CachePolicyChanged {
		t.Error("expected CachePolicyChanged=true")
	}
	if d.NewCachePolicy != "b" {
		t.Errorf("expected NewCachePolicy=b, got %q", d.NewCachePolicy)
	}
}

func TestDiff_MaxConnectRetriesChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{MaxConnectRetries: 3}}
	new := &config.Config{Server: config.ServerConfig{MaxConnectRetries: 5}}

	d := config.Diff(old, new)
	if !d.MaxConnectRetriesChanged {
		t.Error("expected MaxConnectRetriesChanged=true")
	}
	if d.NewMaxConnectRetries != 5 {
		t.Errorf("expected NewMaxConnectRetries=5, got %d", d.NewMaxConnectRetries)
	}
}

func TestDiff_DAVEEnableChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{DAVE: config.DAVEConfig{Enable: false}}
	new := &config.Config{DAVE: config.DAVEConfig{Enable: true}}

	d := config.Diff(old, new)
	if !d.DAVEEnableChanged {
		t.Error("expected DAVEEnableChanged=true")
	}
	if !d.NewDAVEEnable {
		t.Error("expected NewDAVEEnable=true")
	}
}

func TestDiff_SendAudioTypeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Voice: config.VoiceConfig{SendAudioType: config.SendAudioRecorded}}
	new := &config.Config{Voice: config.VoiceConfig{SendAudioType: config.SendAudioLive}}

	d := config.Diff(old, new)
	if !d.SendAudioTypeChanged {
		t.Error("expected SendAudioTypeChanged=true")
	}
	if d.NewSendAudioType != config.SendAudioLive {
		t.Errorf("expected NewSendAudioType=live, got %q", d.NewSendAudioType)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo, MaxConnectRetries: 3},
		DAVE:   config.DAVEConfig{Enable: false},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelWarn, MaxConnectRetries: 3},
		DAVE:   config.DAVEConfig{Enable: true},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.MaxConnectRetriesChanged {
		t.Error("expected MaxConnectRetriesChanged=false")
	}
	if !d.DAVEEnableChanged {
		t.Error("expected DAVEEnableChanged=true")
	}
}
