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
	"context"
	"sync"

	"querycanvas/platform/shared/logger"
	"querycanvas/platform/shared/metrics"
)

// Session is a long-lived handle to one tool-server process. Initialize
// must succeed before any other call; Close is safe to call multiple
// times. A Session serves exactly one request at a time by convention —
// the orchestrator opens a fresh session per request.
type Session struct {
	server    string
	transport Transport
	log       *logger.Logger

	mu          sync.Mutex
	initialized bool
}

// NewSession wraps a transport in an uninitialized session.
func NewSession(server string, transport Transport) *Session {
	return &Session{
		server:    server,
		transport: transport,
		log:       logger.New("tool-session"),
	}
}

// Open spawns the configured server process and returns a session for it.
// The session is not yet initialized.
func Open(name string, manager *Manager) (*Session, error) {
	cfg, err := manager.Get(name)
	if err != nil {
		return nil, err
	}

	transport, err := SpawnStdioTransport(name, cfg)
	if err != nil {
		return nil, err
	}

	return NewSession(name, transport), nil
}

// Server returns the configured server name this session is bound to.
func (s *Session) Server() string {
	return s.server
}

// Initialize performs the protocol handshake. It is idempotent: repeated
// calls after a successful handshake are no-ops.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	var result initializeResult
	if err := s.transport.Call(ctx, MethodInitialize, nil, &result); err != nil {
		return err
	}

	s.log.Debug("", "", "tool session initialized", map[string]interface{}{
		"server":         s.server,
		"server_name":    result.ServerName,
		"server_version": result.ServerVersion,
	})

	s.initialized = true
	return nil
}

// ensureInitialized gates every post-handshake operation.
func (s *Session) ensureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// ListTools returns the tools exported by the server.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := s.transport.Call(ctx, MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool with the given arguments.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var result ToolResult
	err := s.transport.Call(ctx, MethodCallTool, callToolParams{Name: name, Arguments: args}, &result)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		return nil, err
	}

	outcome := "ok"
	if result.IsError {
		outcome = "tool_error"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()

	return &result, nil
}

// ListPrompts returns the prompt templates exported by the server.
func (s *Session) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var result listPromptsResult
	if err := s.transport.Call(ctx, MethodListPrompts, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// ListResources returns the resources exported by the server.
func (s *Session) ListResources(ctx context.Context) ([]Resource, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var result listResourcesResult
	if err := s.transport.Call(ctx, MethodListResources, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var result ResourceContents
	if err := s.transport.Call(ctx, MethodReadResource, readResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close severs the transport, terminating the server process. Any
// outstanding call fails fast rather than hanging. Safe to call multiple
// times.
func (s *Session) Close() error {
	return s.transport.Close()
}
