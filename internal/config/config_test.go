package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.WeightVector != 0.55 || cfg.WeightLexical != 0.20 || cfg.WeightSemantic != 0.25 {
		t.Errorf("unexpected default weights: %f/%f/%f", cfg.WeightVector, cfg.WeightLexical, cfg.WeightSemantic)
	}
	if cfg.ShortlistSize != 50 || cfg.RerankPoolSize != 20 {
		t.Errorf("unexpected shortlist defaults: %d/%d", cfg.ShortlistSize, cfg.RerankPoolSize)
	}
}

func TestLoad_RequiresOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	if _, err := Load(); err == nil {
		t.Error("expected error when OPENAI_API_KEY is missing for openai provider")
	}

	// Ollama-only setup needs no key.
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("JUDGE_PROVIDER", "ollama")
	if _, err := Load(); err != nil {
		t.Errorf("unexpected error for ollama-only setup: %v", err)
	}
}

func TestLoad_RejectsUnknownProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JUDGE_PROVIDER", "copilot")

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown judge provider")
	}
}

func TestAPIKeyMap(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("API_KEYS", "abc123:portal,def456:backoffice")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	keys := cfg.APIKeyMap()
	if keys["abc123"] != "portal" || keys["def456"] != "backoffice" {
		t.Errorf("unexpected key map: %v", keys)
	}
}

func TestLoad_MalformedAPIKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("API_KEYS", "no-colon-here")

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed API_KEYS entry")
	}
}
