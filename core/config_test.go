package core

import (
	"context"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://social.example"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	missingBase := DefaultConfig()
	if err := missingBase.Validate(); err == nil {
		t.Fatal("expected missing base_url to fail validation")
	}

	relative := DefaultConfig()
	relative.BaseURL = "/not-absolute"
	if err := relative.Validate(); err == nil {
		t.Fatal("expected relative base_url to fail validation")
	}

	badDepth := DefaultConfig()
	badDepth.BaseURL = "https://social.example"
	badDepth.MaxResolutionDepth = 0
	if err := badDepth.Validate(); err == nil {
		t.Fatal("expected zero depth to fail validation")
	}
}

func TestConfig_LocalAuthority(t *testing.T) {
	cfg := Config{BaseURL: "https://Social.Example:8443"}
	if got := cfg.LocalAuthority(); got != "social.example:8443" {
		t.Fatalf("expected lowercased authority, got %q", got)
	}
}

func TestCfgxConfigProvider_Load(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"base_url":        "https://social.example",
		"request_timeout": "5s",
	}})
	defaults := DefaultConfig()
	cfg, err := provider.Load(context.Background(), defaults)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BaseURL != "https://social.example" {
		t.Fatalf("expected loaded base_url, got %q", cfg.BaseURL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("expected overridden timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxResolutionDepth != defaults.MaxResolutionDepth {
		t.Fatalf("expected defaulted depth, got %d", cfg.MaxResolutionDepth)
	}
}
