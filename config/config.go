// Copyright 2026 QueryCanvas
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads engine configuration from a YAML file with
// environment-variable overrides for secrets and deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	ToolServerFile string `yaml:"tool_server_file"`
	KeyDBPath      string `yaml:"key_db_path"`
	AdminKey       string `yaml:"admin_key"`

	Backend       string `yaml:"backend"`
	MaxIterations int    `yaml:"max_iterations"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`

	RedisURL           string   `yaml:"redis_url"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	CORSOrigins        []string `yaml:"cors_origins"`
}

// ProviderConfig holds per-provider credentials and model selection.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Load reads the YAML file at path (missing file yields defaults) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:         ":8000",
		ToolServerFile:     "tool_servers.json",
		KeyDBPath:          "app.db",
		Backend:            "anthropic",
		RateLimitPerMinute: 60,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.ToolServerFile, "TOOL_SERVER_FILE")
	setString(&cfg.KeyDBPath, "KEY_DB_PATH")
	setString(&cfg.AdminKey, "ADMIN_KEY")
	setString(&cfg.Backend, "LLM_BACKEND")
	setInt(&cfg.MaxIterations, "LLM_MAX_ITERATIONS")
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY must be set when backend is anthropic")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set when backend is openai")
		}
	default:
		return fmt.Errorf("unknown LLM backend %q", c.Backend)
	}

	if c.AdminKey == "" {
		return fmt.Errorf("ADMIN_KEY must be set")
	}
	return nil
}
