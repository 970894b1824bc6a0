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

package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/platform/conversation"
	"querycanvas/platform/llm"
	"querycanvas/platform/toolserver"
)

// conversationTurn builds a one-turn history carrying a legacy tool-call log.
func conversationTurn(log string) []conversation.Turn {
	return []conversation.Turn{{Role: "assistant", Content: "earlier answer", ToolCallsLog: log}}
}

// sqlStep is one scripted outcome for a query_database call.
type sqlStep struct {
	result *toolserver.ToolResult
	err    error
}

// stubSession serves a fixed one-table schema and a scripted sequence of
// query_database outcomes.
type stubSession struct {
	tools    []toolserver.Tool
	sqlQueue []sqlStep
	sqlSeen  []string
	initErr  error
	closed   bool
}

func textResult(text string) *toolserver.ToolResult {
	return &toolserver.ToolResult{Content: []toolserver.Content{{Type: "text", Text: text}}}
}

func errorResult(text string) *toolserver.ToolResult {
	return &toolserver.ToolResult{Content: []toolserver.Content{{Type: "text", Text: text}}, IsError: true}
}

func (s *stubSession) Initialize(ctx context.Context) error { return s.initErr }

func (s *stubSession) ListTools(ctx context.Context) ([]toolserver.Tool, error) {
	return s.tools, nil
}

func (s *stubSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*toolserver.ToolResult, error) {
	switch name {
	case "list_tables":
		return textResult(`["users"]`), nil
	case "describe_table":
		return textResult(`[{"Field": "id", "Key": "PRI"}, {"Field": "email"}]`), nil
	case "query_database":
		sql, _ := args["query"].(string)
		s.sqlSeen = append(s.sqlSeen, sql)
		if len(s.sqlQueue) == 0 {
			return nil, fmt.Errorf("unexpected query_database call: %s", sql)
		}
		step := s.sqlQueue[0]
		s.sqlQueue = s.sqlQueue[1:]
		return step.result, step.err
	default:
		return nil, fmt.Errorf("unexpected tool call %s", name)
	}
}

func (s *stubSession) ListPrompts(ctx context.Context) ([]toolserver.Prompt, error) {
	return []toolserver.Prompt{{Name: "query_table"}}, nil
}

func (s *stubSession) ListResources(ctx context.Context) ([]toolserver.Resource, error) {
	return nil, nil
}

func (s *stubSession) ReadResource(ctx context.Context, uri string) (*toolserver.ResourceContents, error) {
	return nil, fmt.Errorf("unknown resource %s", uri)
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

// stubBackend replays scripted chain results and records what it was given.
type stubBackend struct {
	results []*llm.ChainResult
	errs    []error
	calls   [][]llm.Message
	tools   [][]llm.ToolDefinition
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) ProcessChain(ctx context.Context, session llm.Session, messages []llm.Message, externalTools []llm.ToolDefinition) (*llm.ChainResult, error) {
	i := len(b.calls)
	b.calls = append(b.calls, messages)
	b.tools = append(b.tools, externalTools)
	if i < len(b.errs) && b.errs[i] != nil {
		return nil, b.errs[i]
	}
	if i < len(b.results) {
		return b.results[i], nil
	}
	return nil, fmt.Errorf("unexpected ProcessChain call %d", i)
}

func (b *stubBackend) LastRaw() []llm.ContentFragment { return nil }

func newTestService(session *stubSession, backend llm.Backend) *Service {
	svc := NewService("mysql", nil, func() (llm.Backend, error) { return backend, nil })
	svc.openSession = func(ctx context.Context) (Session, error) { return session, nil }
	return svc
}

func serverTools() []toolserver.Tool {
	return []toolserver.Tool{
		{Name: "query_database", Description: "Run a read-only SQL query", InputSchema: []byte(`{"type": "object"}`)},
		{Name: "list_tables", Description: "List tables"},
		{Name: "describe_table", Description: "Describe one table"},
	}
}

func TestProcessQuery_ChartHappyPath(t *testing.T) {
	session := &stubSession{tools: serverTools()}
	backend := &stubBackend{
		results: []*llm.ChainResult{{
			Explanation: "Here is your chart",
			ToolCalls: []llm.ToolInvocation{{
				Type:   "create_chart",
				Params: map[string]interface{}{"name": "Users over time"},
			}},
			Raw: []llm.ContentFragment{{Type: "text", Text: "Here is your chart"}},
		}},
	}

	svc := newTestService(session, backend)
	resp, err := svc.ProcessQuery(context.Background(), Request{
		Question:     "how many users signed up per month?",
		DatabaseName: "sales",
	})

	require.NoError(t, err)
	assert.Equal(t, "Here is your chart", resp.Explanation)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "create_chart", resp.ToolCalls[0].Type)
	assert.Empty(t, resp.SQL)
	assert.True(t, session.closed, "session must be released after the request")

	// The backend saw the system prompt first and the question last.
	require.Len(t, backend.calls, 1)
	messages := backend.calls[0]
	require.NotEmpty(t, messages)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "sales")
	assert.Contains(t, messages[0].Content, "users")
	last := messages[len(messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "how many users signed up per month?", last.Content)

	// Server tools are passed through in provider-neutral form.
	require.Len(t, backend.tools[0], 3)
	assert.Equal(t, "query_database", backend.tools[0][0].Name)
}

func TestProcessQuery_SessionClosedOnBackendFailure(t *testing.T) {
	session := &stubSession{tools: serverTools()}
	backend := &stubBackend{errs: []error{&llm.SamplingError{Message: "exceeded maximum tool use iterations"}}}

	svc := newTestService(session, backend)
	_, err := svc.ProcessQuery(context.Background(), Request{Question: "q", DatabaseName: "db"})

	require.Error(t, err)
	assert.True(t, session.closed)
}

func TestProcessQuery_SessionClosedOnInitFailure(t *testing.T) {
	session := &stubSession{initErr: toolserver.NewTransportError("mysql", "initialize", fmt.Errorf("broken pipe"))}

	svc := newTestService(session, &stubBackend{})
	_, err := svc.ProcessQuery(context.Background(), Request{Question: "q", DatabaseName: "db"})

	require.Error(t, err)
	assert.True(t, session.closed)
}

func TestProcessQuery_FailureKinds(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*stubSession, *stubBackend, *Request)
		wantKind string
	}{
		{
			name: "transport error",
			mutate: func(s *stubSession, b *stubBackend, r *Request) {
				s.initErr = toolserver.NewTransportError("mysql", "initialize", fmt.Errorf("exited"))
			},
			wantKind: "tool_transport_error",
		},
		{
			name: "sampling error",
			mutate: func(s *stubSession, b *stubBackend, r *Request) {
				b.errs = []error{&llm.SamplingError{Message: "model refused"}}
			},
			wantKind: "sampling_error",
		},
		{
			name: "history error",
			mutate: func(s *stubSession, b *stubBackend, r *Request) {
				r.History = conversationTurn("<tool_calls><broken")
			},
			wantKind: "history_error",
		},
		{
			name: "unknown query type",
			mutate: func(s *stubSession, b *stubBackend, r *Request) {
				r.QueryType = "spreadsheet"
			},
			wantKind: "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := &stubSession{tools: serverTools()}
			backend := &stubBackend{results: []*llm.ChainResult{{Explanation: "ok"}}}
			req := Request{Question: "q", DatabaseName: "db"}
			tc.mutate(session, backend, &req)

			svc := newTestService(session, backend)
			_, err := svc.ProcessQuery(context.Background(), req)

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tc.wantKind, failure.Kind)
		})
	}
}

func TestGetCapabilities(t *testing.T) {
	session := &stubSession{tools: serverTools()}

	svc := newTestService(session, &stubBackend{})
	caps, err := svc.GetCapabilities(context.Background())

	require.NoError(t, err)
	require.Len(t, caps.Prompts, 1)
	assert.Equal(t, "query_table", caps.Prompts[0].Name)
	assert.Contains(t, caps.Schema.Tables, "users")
	assert.Contains(t, caps.Visualizations["time_series"], "line")
	assert.True(t, caps.Features["supports_dashboard"])
	assert.True(t, session.closed)
}

func writeServerConfig(t *testing.T) *toolserver.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool_servers.json")
	content := `{
  "toolServers": {
    "mysql": {
      "command": "dbtool",
      "args": ["--dialect", "mysql"],
      "env": {"DB_DSN": "user:pass@tcp(localhost:3306)/sales", "DB_DRIVER": "mysql"}
    }
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	manager, err := toolserver.NewManager(path)
	require.NoError(t, err)
	return manager
}

func TestRegistry(t *testing.T) {
	manager := writeServerConfig(t)
	registry := NewRegistry(manager, func() (llm.Backend, error) { return &stubBackend{}, nil })

	first, err := registry.Get("mysql")
	require.NoError(t, err)

	second, err := registry.Get("mysql")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = registry.Get("oracle")
	assert.Error(t, err)
}

func TestListServers_NeverExposesEnvValues(t *testing.T) {
	manager := writeServerConfig(t)

	list, err := ListServers(manager)
	require.NoError(t, err)

	assert.Equal(t, []string{"mysql"}, list.Servers)
	assert.Equal(t, "mysql", list.DefaultServer)

	detail := list.ServerDetails["mysql"]
	assert.Equal(t, "dbtool", detail.Command)
	assert.Contains(t, detail.EnvVars, "DB_DSN")
	for _, v := range detail.EnvVars {
		assert.NotContains(t, v, "pass")
	}
}
