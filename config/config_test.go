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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ADMIN_KEY", "admin-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "tool_servers.json", cfg.ToolServerFile)
	assert.Equal(t, "app.db", cfg.KeyDBPath)
	assert.Equal(t, "anthropic", cfg.Backend)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("ADMIN_KEY", "admin-secret")

	path := writeYAML(t, `
listen_addr: ":9100"
backend: openai
max_iterations: 4
openai:
  api_key: sk-from-file
  model: gpt-4o-2024-11-20
redis_url: redis://localhost:6379/0
rate_limit_per_minute: 10
cors_origins:
  - https://app.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "openai", cfg.Backend)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, "sk-from-file", cfg.OpenAI.APIKey)
	assert.Equal(t, 10, cfg.RateLimitPerMinute)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ADMIN_KEY", "admin-secret")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "99")

	path := writeYAML(t, `
listen_addr: ":9100"
backend: openai
openai:
  api_key: sk-from-file
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, "sk-from-env", cfg.OpenAI.APIKey)
	assert.Equal(t, 99, cfg.RateLimitPerMinute)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing backend key", func(t *testing.T) {
		t.Setenv("ADMIN_KEY", "admin-secret")
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := Load(writeYAML(t, `backend: anthropic`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("ADMIN_KEY", "admin-secret")
		_, err := Load(writeYAML(t, `backend: llama`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown LLM backend")
	})

	t.Run("missing admin key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-test")
		t.Setenv("ADMIN_KEY", "")
		_, err := Load(writeYAML(t, `backend: anthropic`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ADMIN_KEY")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeYAML(t, "listen_addr: [unclosed"))
		assert.Error(t, err)
	})
}
