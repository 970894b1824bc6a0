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

package toolserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ServerConfig describes how to spawn one named tool-server process.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// configFile is the on-disk layout of the tool-server config file.
type configFile struct {
	ToolServers map[string]ServerConfig `json:"toolServers"`
}

// Manager holds the set of configured tool servers, keyed by name.
// The config file is read once at construction; it is read-only input.
type Manager struct {
	path    string
	servers map[string]ServerConfig
}

// NewManager loads the JSON config file at path. A missing file yields an
// empty manager rather than an error so the service can start without any
// tool servers configured.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, servers: map[string]ServerConfig{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read tool-server config %s: %w", path, err)
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tool-server config %s: %w", path, err)
	}

	for name, sc := range cfg.ToolServers {
		sc.Env = enrichEnv(sc.Env)
		m.servers[name] = sc
	}

	return m, nil
}

// Get returns the configuration for a named server.
func (m *Manager) Get(name string) (ServerConfig, error) {
	sc, ok := m.servers[name]
	if !ok {
		return ServerConfig{}, fmt.Errorf("tool server %q not found in configuration", name)
	}
	return sc, nil
}

// List returns the configured server names in sorted order.
func (m *Manager) List() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// enrichEnv fills in PATH for spawned servers. Config entries only carry the
// variables the server needs (DB credentials etc.), so the process would
// otherwise start with no PATH and fail to locate its own interpreter.
func enrichEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}

	if _, ok := out["PATH"]; !ok {
		out["PATH"] = os.Getenv("PATH")
	}

	if runtime.GOOS != "windows" {
		home, _ := os.UserHomeDir()
		extra := []string{"/usr/local/bin", "/usr/bin", "/bin"}
		if home != "" {
			extra = append(extra, filepath.Join(home, ".local", "bin"))
		}
		parts := []string{out["PATH"]}
		parts = append(parts, extra...)
		out["PATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	return out
}

// EnvSlice converts the Env map to the KEY=VALUE slice form exec.Cmd expects,
// in deterministic order.
func (c ServerConfig) EnvSlice() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}
