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

// Package query contains the top-level orchestrator: it owns the tool
// session for the duration of one request, fetches schema, builds the
// prompt, drives the LLM tool-use loop, and in legacy SQL mode executes
// the proposed statement with a single refinement retry.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"querycanvas/platform/conversation"
	"querycanvas/platform/llm"
	"querycanvas/platform/schema"
	"querycanvas/platform/shared/logger"
	"querycanvas/platform/shared/metrics"
	"querycanvas/platform/toolserver"
)

// BackendFactory builds a fresh, request-scoped LLM backend. Backends
// keep per-call trace state and must not be shared across requests.
type BackendFactory func() (llm.Backend, error)

// Session is the tool-session surface the orchestrator consumes.
// *toolserver.Session implements it.
type Session interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]toolserver.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*toolserver.ToolResult, error)
	ListPrompts(ctx context.Context) ([]toolserver.Prompt, error)
	ListResources(ctx context.Context) ([]toolserver.Resource, error)
	ReadResource(ctx context.Context, uri string) (*toolserver.ResourceContents, error)
	Close() error
}

// Request is one natural-language query.
type Request struct {
	Question     string              `json:"question"`
	DatabaseName string              `json:"database_name"`
	QueryType    string              `json:"type,omitempty"`
	ChartID      int                 `json:"chart_id,omitempty"`
	History      []conversation.Turn `json:"message_history,omitempty"`
}

// QueryResult is the tabular outcome of a legacy-mode SQL execution.
type QueryResult struct {
	Columns      []string        `json:"columns"`
	Rows         [][]interface{} `json:"rows"`
	AffectedRows int             `json:"affected_rows"`
}

// Response is the externally visible unit of work product.
type Response struct {
	Explanation string                `json:"explanation"`
	ToolCalls   []llm.ToolInvocation  `json:"tool_calls"`
	Raw         []llm.ContentFragment `json:"raw_llm_response,omitempty"`
	SQL         string                `json:"sql,omitempty"`
	Result      *QueryResult          `json:"result,omitempty"`
}

// Service orchestrates queries against one named tool server. Instances
// are created once per server through the Registry and shared across
// requests; per-request state (session, backend) is created inside
// ProcessQuery.
type Service struct {
	server     string
	manager    *toolserver.Manager
	newBackend BackendFactory
	schema     *schema.Service
	log        *logger.Logger

	// openSession is swapped out in tests.
	openSession func(ctx context.Context) (Session, error)
}

// NewService creates an orchestrator for one tool server.
func NewService(server string, manager *toolserver.Manager, factory BackendFactory) *Service {
	s := &Service{
		server:     server,
		manager:    manager,
		newBackend: factory,
		schema:     schema.NewService(),
		log:        logger.New("query-service"),
	}
	s.openSession = s.spawnSession
	return s
}

// spawnSession launches the configured server process for this request.
func (s *Service) spawnSession(ctx context.Context) (Session, error) {
	session, err := toolserver.Open(s.server, s.manager)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// acquireSession opens and initializes a session for this request.
func (s *Service) acquireSession(ctx context.Context) (Session, error) {
	session, err := s.openSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := session.Initialize(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

// ProcessQuery runs the per-request state machine. Every exit path
// releases the session; every failure surfaces as a normalized Failure.
func (s *Service) ProcessQuery(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	queryType, err := conversation.ParseQueryType(req.QueryType)
	if err != nil {
		return nil, Normalize(err)
	}

	resp, err := s.process(ctx, req, queryType)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QueriesTotal.WithLabelValues(s.server, string(queryType), outcome).Inc()
	metrics.QueryDuration.WithLabelValues(s.server, string(queryType)).Observe(time.Since(start).Seconds())

	if err != nil {
		failure := Normalize(err)
		s.log.ErrorWithErr("", "", "query processing failed", err, map[string]interface{}{
			"server": s.server,
			"kind":   failure.Kind,
		})
		return nil, failure
	}
	return resp, nil
}

func (s *Service) process(ctx context.Context, req Request, queryType conversation.QueryType) (*Response, error) {
	session, err := s.acquireSession(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = session.Close()
	}()

	s.log.Info("", "", "fetching schema", map[string]interface{}{"server": s.server})
	snap, err := s.schema.GetSchema(ctx, session)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := conversation.BuildSystemPrompt(conversation.PromptInput{
		QueryType:    queryType,
		DatabaseName: req.DatabaseName,
		Schema:       snap,
		ChartID:      req.ChartID,
	})
	if err != nil {
		return nil, err
	}

	messages, err := conversation.BuildMessages(systemPrompt, req.Question, req.History)
	if err != nil {
		return nil, err
	}

	externalTools, err := s.discoverTools(ctx, session)
	if err != nil {
		return nil, err
	}

	backend, err := s.newBackend()
	if err != nil {
		return nil, err
	}

	result, err := backend.ProcessChain(ctx, session, messages, externalTools)
	if err != nil {
		return nil, err
	}

	if queryType == conversation.QueryTypeSQL {
		return s.runSQLMode(ctx, session, backend, snap, result)
	}

	return &Response{
		Explanation: result.Explanation,
		ToolCalls:   result.ToolCalls,
		Raw:         result.Raw,
	}, nil
}

// discoverTools converts the server's exported tools into the
// provider-neutral shape the backends consume.
func (s *Service) discoverTools(ctx context.Context, session Session) ([]llm.ToolDefinition, error) {
	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return defs, nil
}

// Capabilities describes what a server offers to clients.
type Capabilities struct {
	Prompts        []toolserver.Prompt `json:"prompts"`
	Schema         *schema.Snapshot    `json:"schema"`
	Visualizations map[string][]string `json:"visualizations"`
	Features       map[string]bool     `json:"features"`
}

// GetCapabilities reports the server's prompts, cached schema, the
// visualization taxonomy, and feature flags.
func (s *Service) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	session, err := s.acquireSession(ctx)
	if err != nil {
		return nil, Normalize(err)
	}
	defer func() {
		_ = session.Close()
	}()

	prompts, err := session.ListPrompts(ctx)
	if err != nil {
		return nil, Normalize(err)
	}

	snap, err := s.schema.GetSchema(ctx, session)
	if err != nil {
		return nil, Normalize(err)
	}

	return &Capabilities{
		Prompts: prompts,
		Schema:  snap,
		Visualizations: map[string][]string{
			"time_series":   {"line", "bar", "combo", "area", "waterfall", "trend"},
			"comparisons":   {"bar", "row", "pie", "funnel"},
			"distributions": {"scatter"},
			"single_value":  {"progress", "gauge", "number"},
			"tabular":       {"table", "pivot table"},
			"geographical":  {"map"},
			"composition":   {"pie", "waterfall", "stacked_bar", "stacked_area"},
		},
		Features: map[string]bool{
			"supports_aggregations":  true,
			"supports_custom_fields": true,
			"supports_drill_through": true,
			"supports_filters":       true,
			"supports_parameters":    true,
			"supports_dashboard":     true,
		},
	}, nil
}

// ServerDetail is the public view of one tool-server configuration.
// Environment variable values are never exposed, only their names.
type ServerDetail struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	EnvVars []string `json:"env_vars"`
}

// ServerList enumerates the configured tool servers.
type ServerList struct {
	Servers       []string                `json:"servers"`
	ServerDetails map[string]ServerDetail `json:"server_details"`
	DefaultServer string                  `json:"default_server"`
}

// ListServers reports all configured tool servers.
func ListServers(manager *toolserver.Manager) (*ServerList, error) {
	names := manager.List()
	details := make(map[string]ServerDetail, len(names))

	for _, name := range names {
		cfg, err := manager.Get(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read server config %q: %w", name, err)
		}
		envVars := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			envVars = append(envVars, k)
		}
		sort.Strings(envVars)
		details[name] = ServerDetail{
			Command: cfg.Command,
			Args:    cfg.Args,
			EnvVars: envVars,
		}
	}

	return &ServerList{
		Servers:       names,
		ServerDetails: details,
		DefaultServer: "mysql",
	}, nil
}
