package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestDefaultRoutingConfig(t *testing.T) {
	cfg := DefaultRoutingConfig()

	if len(cfg.FastPaths) == 0 || len(cfg.Tools) == 0 || len(cfg.Builtins) == 0 {
		t.Fatal("default routing config should populate every rule kind")
	}
	if cfg.Delegate.Adapter == "" || cfg.Delegate.Model == "" {
		t.Error("default delegate target missing")
	}
	if len(cfg.LiveStateTriggers) == 0 {
		t.Error("default live-state triggers missing")
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.BaseBackoffMs != 200 {
		t.Errorf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("retrieval TopK = %d, want 4", cfg.Retrieval.TopK)
	}
}

func TestLoadRoutingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	content := `
fastpaths:
  greeting:
    triggers: ["hello"]
    reply: "hi"
tools:
  open:
    patterns: ["open {app}"]
    tool: launch_app
builtins:
  health:
    triggers: ["health"]
    handler: health
delegate:
  adapter: mock
  model: mock-1
live_state_triggers: ["status"]
retry:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRoutingConfig(path)
	if err != nil {
		t.Fatalf("LoadRoutingConfig() error = %v", err)
	}
	if cfg.Delegate.Adapter != "mock" {
		t.Errorf("Delegate.Adapter = %q", cfg.Delegate.Adapter)
	}
	if cfg.Tools["open"].Tool != "launch_app" {
		t.Errorf("Tools[open] = %+v", cfg.Tools["open"])
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("Retry.MaxRetries = %d, want explicit 5", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseBackoffMs != 200 {
		t.Errorf("BaseBackoffMs = %d, want default 200", cfg.Retry.BaseBackoffMs)
	}
}

func TestLoadRoutingConfigMissingFile(t *testing.T) {
	if _, err := LoadRoutingConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAliasResolve(t *testing.T) {
	aliases := DefaultAliases()

	tests := []struct {
		in   string
		want string
	}{
		{"quality", "claude-sonnet-4-20250514"},
		{"cheap", "deepseek-chat"},
		{"claude-opus-4-20250514", "claude-opus-4-20250514"},
		{"unknown-model", "unknown-model"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := aliases.Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	var nilAliases *ModelAliases
	if got := nilAliases.Resolve("quality"); got != "quality" {
		t.Errorf("nil receiver Resolve = %q", got)
	}
}

func TestValidateModel(t *testing.T) {
	aliases := DefaultAliases()

	if err := aliases.ValidateModel("anthropic", "claude-sonnet-4-20250514"); err != nil {
		t.Errorf("valid model rejected: %v", err)
	}
	if err := aliases.ValidateModel("anthropic", "gpt-5.2-pro"); err == nil {
		t.Error("model from the wrong provider accepted")
	}
	if err := aliases.ValidateModel("nope", "any"); err == nil {
		t.Error("unknown adapter accepted")
	}
}

func TestValidateRoutingConfigDelegate(t *testing.T) {
	aliases := DefaultAliases()

	cfg := DefaultRoutingConfig()
	if errs := aliases.ValidateRoutingConfig(cfg); len(errs) != 0 {
		t.Errorf("default config should validate: %v", errs)
	}

	cfg.Delegate = DelegateTarget{Adapter: "anthropic", Model: "no-such-model"}
	if errs := aliases.ValidateRoutingConfig(cfg); len(errs) == 0 {
		t.Error("invalid delegate model should fail validation")
	}

	// Aliases resolve before validation.
	cfg.Delegate = DelegateTarget{Adapter: "anthropic", Model: "quality"}
	if errs := aliases.ValidateRoutingConfig(cfg); len(errs) != 0 {
		t.Errorf("aliased delegate model should validate: %v", errs)
	}

	// The mock adapter is a first-class delegate target for local runs.
	cfg.Delegate = DelegateTarget{Adapter: "mock", Model: "mock-1"}
	if errs := aliases.ValidateRoutingConfig(cfg); len(errs) != 0 {
		t.Errorf("mock delegate target should validate: %v", errs)
	}
}

func TestProviderLookups(t *testing.T) {
	aliases := DefaultAliases()

	if !aliases.IsAlias("quality") {
		t.Error("IsAlias(quality) = false")
	}
	if aliases.IsAlias("claude-sonnet-4-20250514") {
		t.Error("canonical model reported as alias")
	}

	providers := aliases.ListProviders()
	if len(providers) == 0 || !sort.StringsAreSorted(providers) {
		t.Errorf("ListProviders() = %v, want sorted non-empty list", providers)
	}

	if models := aliases.GetProviderModels("deepseek"); len(models) != 2 {
		t.Errorf("GetProviderModels(deepseek) = %v", models)
	}
	if got := aliases.GetProviderForModel("gemini-2.0-pro"); got != "google" {
		t.Errorf("GetProviderForModel = %q, want google", got)
	}

	listed := aliases.ListAliases()
	listed["quality"] = "mutated"
	if aliases.Aliases["quality"] == "mutated" {
		t.Error("ListAliases should return a copy")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	applyConfigDefaults(cfg)

	if cfg.Server.Port != 8610 {
		t.Errorf("Port = %d, want 8610", cfg.Server.Port)
	}
	if cfg.RateLimit.RefillPerSecond != 1 || cfg.RateLimit.Burst != 10 {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Cache.TTL <= 0 {
		t.Error("cache TTL default missing")
	}
}
