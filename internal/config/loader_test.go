package config_test

import (
	"strings"
	"testing"

	"github.com/driftglass/chorus/internal/config"
)

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
  max_connect_retries: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "max_connect_retries") {
		t.Errorf("error should mention max_connect_retries, got: %v", err)
	}
}

func TestValidate_NegativeAEADThreshold(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  aead_failure_threshold: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative aead_failure_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "aead_failure_threshold") {
		t.Errorf("error should mention aead_failure_threshold, got: %v", err)
	}
}

func TestValidate_TLSKeyWithoutCert(t *testing.T) {
	t.Parallel()
	yaml := `
tls:
  key_file: /etc/chorus/tls.key
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for key without cert, got nil")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error should mention cert_file, got: %v", err)
	}
}

func TestValidate_DAVEAloneIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
dave:
  enable: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
