package config

import (
	"strings"
	"testing"
)

func validConfig() EnvConfig {
	return EnvConfig{
		Port:       "3000",
		BaseURL:    "http://localhost:3000",
		AuthSecret: strings.Repeat("s", 32),
		Platform:   "local",
		RunStore:   "file",
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.AuthSecret = "short"
	cfg.Platform = "nomad"
	cfg.RunStore = "sqlite"
	cfg.S3Endpoint = "localhost:9000"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"AUTH_SECRET", "PLATFORM", "RUN_STORE", "S3_ACCESS_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in error, got:\n%v", want, err)
		}
	}
}

func TestValidateEnv_Prefix(t *testing.T) {
	t.Setenv("QCI_ENVIRONMENT", "production")
	t.Setenv("QCI_AUTH_SECRET", strings.Repeat("x", 40))
	t.Setenv("QCI_PLATFORM", "docker")
	t.Setenv("PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("ValidateEnv: %v", err)
	}
	if cfg.Platform != "docker" {
		t.Errorf("expected docker platform, got %s", cfg.Platform)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected bare PORT fallback, got %s", cfg.Port)
	}
	if cfg.DedupTTL.Hours() != 24 {
		t.Errorf("expected default dedup ttl, got %s", cfg.DedupTTL)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                 "<not set>",
		"short":            "***",
		"abcdefghijklmnop": "abcd...mnop",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
