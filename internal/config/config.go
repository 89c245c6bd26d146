// Package config loads the bot configuration from an optional YAML file
// plus environment overrides. The file is validated against a JSON schema
// before decoding so misconfiguration fails at startup, not at dispatch.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"vkbox/internal/schema"
)

// Config is the full bot configuration.
type Config struct {
	Token        string `yaml:"token"`
	GroupID      int64  `yaml:"group_id"`
	Mode         string `yaml:"mode"`          // "polling" or "callback"
	StateBackend string `yaml:"state_backend"` // "memory", "redis" or "postgres"
	RedisAddr    string `yaml:"redis_addr"`
	DatabaseURL  string `yaml:"database_url"`
	Wait         int    `yaml:"wait"` // long-poll hold seconds
	JobsEnabled  bool   `yaml:"jobs_enabled"`
	OpsSecret    string `yaml:"ops_secret"` // bearer secret for /metrics and /tap

	Callback CallbackConfig `yaml:"callback"`
}

// CallbackConfig configures the webhook event source and ops server.
type CallbackConfig struct {
	Addr         string `yaml:"addr"`
	Secret       string `yaml:"secret"`
	Confirmation string `yaml:"confirmation"`
}

// fileSchema validates the raw YAML document before it reaches the struct.
var fileSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]interface{}{
		"token":         map[string]interface{}{"type": "string"},
		"group_id":      map[string]interface{}{"type": "integer"},
		"mode":          map[string]interface{}{"type": "string", "enum": []interface{}{"polling", "callback"}},
		"state_backend": map[string]interface{}{"type": "string", "enum": []interface{}{"memory", "redis", "postgres"}},
		"redis_addr":    map[string]interface{}{"type": "string"},
		"database_url":  map[string]interface{}{"type": "string"},
		"wait":          map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 90},
		"jobs_enabled":  map[string]interface{}{"type": "boolean"},
		"ops_secret":    map[string]interface{}{"type": "string"},
		"callback": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"addr":         map[string]interface{}{"type": "string"},
				"secret":       map[string]interface{}{"type": "string"},
				"confirmation": map[string]interface{}{"type": "string"},
			},
		},
	},
}

func defaults() *Config {
	return &Config{
		Mode:         "polling",
		StateBackend: "memory",
		RedisAddr:    "localhost:6379",
		Wait:         25,
		Callback:     CallbackConfig{Addr: ":8080"},
	}
}

// Load reads path (skipped when empty), validates, decodes, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		compiler := schema.NewCompilerWithCache(4)
		if err := compiler.Validate(context.Background(), fileSchema, raw); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Token == "" {
		return nil, fmt.Errorf("missing token: set it in the config file or VK_TOKEN")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VK_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("VK_GROUP_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.GroupID = id
		}
	}
	if v := os.Getenv("VKBOX_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("VKBOX_STATE_BACKEND"); v != "" {
		cfg.StateBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("VKBOX_OPS_SECRET"); v != "" {
		cfg.OpsSecret = v
	}
	if v := os.Getenv("VKBOX_CALLBACK_ADDR"); v != "" {
		cfg.Callback.Addr = v
	}
	if v := os.Getenv("VKBOX_CALLBACK_SECRET"); v != "" {
		cfg.Callback.Secret = v
	}
	if v := os.Getenv("VKBOX_CALLBACK_CONFIRMATION"); v != "" {
		cfg.Callback.Confirmation = v
	}
}
