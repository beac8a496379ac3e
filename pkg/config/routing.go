package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RoutingConfig holds the routing rules configuration.
type RoutingConfig struct {
	FastPaths map[string]FastPathRule `yaml:"fastpaths"`
	Tools     map[string]ToolRule     `yaml:"tools"`
	Builtins  map[string]BuiltinRule  `yaml:"builtins"`
	Delegate  DelegateTarget          `yaml:"delegate"`
	// LiveStateTriggers mark delegate queries whose answers depend on live
	// filesystem/process/service state; such queries are never cached.
	LiveStateTriggers []string        `yaml:"live_state_triggers,omitempty"`
	Retry             RetryConfig     `yaml:"retry,omitempty"`
	Retrieval         RetrievalConfig `yaml:"retrieval,omitempty"`
}

// FastPathRule answers a request immediately with a canned reply.
type FastPathRule struct {
	Triggers []string `yaml:"triggers"`
	Reply    string   `yaml:"reply"`
}

// ToolRule maps pattern matches onto a direct tool call.
//
// Patterns are token sequences with {placeholder} captures, e.g.
// "open {app}". Captured tokens become tool arguments; Args supplies
// additional fixed arguments.
type ToolRule struct {
	Patterns []string          `yaml:"patterns"`
	Tool     string            `yaml:"tool"`
	Args     map[string]string `yaml:"args,omitempty"`
}

// BuiltinRule maps trigger matches onto a built-in handler.
type BuiltinRule struct {
	Triggers []string `yaml:"triggers"`
	Handler  string   `yaml:"handler"`
}

// DelegateTarget specifies the adapter and model for delegate routes.
type DelegateTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"` // may be an alias
}

// RetryConfig defines retry and backoff behavior for delegate calls.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// RetrievalConfig points at the knowledge-retrieval collaborator.
type RetrievalConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	TopK     int    `yaml:"top_k,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		FastPaths: map[string]FastPathRule{
			"greeting": {
				Triggers: []string{"hello", "hi", "hey", "good morning", "good evening"},
				Reply:    "Hello! Tell me what you need and I'll route it to the right tool.",
			},
			"thanks": {
				Triggers: []string{"thanks", "thank you", "cheers"},
				Reply:    "You're welcome.",
			},
			"ping": {
				Triggers: []string{"ping"},
				Reply:    "pong",
			},
		},
		Tools: map[string]ToolRule{
			"launch_app": {
				Patterns: []string{"open {app}", "launch {app}", "start {app}"},
				Tool:     "launch_app",
			},
			"read_file": {
				Patterns: []string{"read file {path}", "show file {path}", "cat {path}"},
				Tool:     "read_file",
			},
			"list_dir": {
				Patterns: []string{"list files in {path}", "list directory {path}", "ls {path}"},
				Tool:     "list_dir",
			},
			"switch_scene": {
				Patterns: []string{"switch scene to {scene}", "obs scene {scene}"},
				Tool:     "obs_scene",
			},
		},
		Builtins: map[string]BuiltinRule{
			"health": {
				Triggers: []string{"health", "are you ok", "self check"},
				Handler:  "health",
			},
			"capabilities": {
				Triggers: []string{"capabilities", "what can you do", "list tools"},
				Handler:  "capabilities",
			},
			"obs": {
				Triggers: []string{"obs", "streaming", "recording"},
				Handler:  "obs",
			},
		},
		Delegate: DelegateTarget{
			Adapter: "anthropic",
			Model:   "claude-sonnet-4-20250514",
		},
		LiveStateTriggers: []string{
			"status", "running", "disk", "cpu", "memory", "uptime",
			"right now", "currently", "today",
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
}
