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

// Package anthropic implements the LLM backend contract against the
// Anthropic Messages API with native tool use.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"querycanvas/platform/llm"
	"querycanvas/platform/shared/logger"
	"querycanvas/platform/shared/metrics"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// DefaultModel is the default Claude model
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultMaxIterations bounds the tool-use loop
	DefaultMaxIterations = 5
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic backend
type Config struct {
	APIKey        string        // Required: Anthropic API key
	BaseURL       string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion    string        // Optional: API version (default: 2023-06-01)
	Model         string        // Optional: Default model
	Timeout       time.Duration // Optional: HTTP timeout (default: 120s)
	MaxIterations int           // Optional: Tool-use loop bound (default: 5)
}

// Backend implements llm.Backend for Anthropic Claude. Instances are
// request-scoped: the raw response trace is reset on every ProcessChain
// call and is not safe for concurrent use.
type Backend struct {
	apiKey        string
	baseURL       string
	apiVersion    string
	model         string
	maxIterations int
	client        HTTPClient
	log           *logger.Logger

	lastRaw []llm.ContentFragment
}

// New creates a new Anthropic backend instance
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	return &Backend{
		apiKey:        cfg.APIKey,
		baseURL:       cfg.BaseURL,
		apiVersion:    cfg.APIVersion,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           logger.New("llm-anthropic"),
	}, nil
}

// Name returns the backend identifier
func (b *Backend) Name() string {
	return "anthropic"
}

// LastRaw returns the raw content trace from the most recent ProcessChain call
func (b *Backend) LastRaw() []llm.ContentFragment {
	return b.lastRaw
}

// ProcessChain implements llm.Backend. It merges the domain catalogue
// with the discovered server tools, then loops: call the model, execute
// any server tools it requests, and stop as soon as the model produces
// domain invocations or a plain text answer.
func (b *Backend) ProcessChain(ctx context.Context, session llm.Session, messages []llm.Message, externalTools []llm.ToolDefinition) (*llm.ChainResult, error) {
	b.lastRaw = nil

	merged, err := llm.MergeTools(externalTools)
	if err != nil {
		return nil, &llm.SamplingError{Message: "invalid tool configuration", Cause: err}
	}
	tools := convertTools(merged)

	system, chain := convertMessages(messages)

	for iteration := 0; iteration < b.maxIterations; iteration++ {
		b.log.Debug("", "", "processing message chain iteration", map[string]interface{}{
			"iteration": iteration,
		})

		resp, err := b.createMessage(ctx, system, chain, tools)
		if err != nil {
			return nil, err
		}

		var invocations []llm.ToolInvocation
		var texts []string

		for _, block := range resp.Content {
			switch block.Type {
			case "tool_use":
				if llm.IsDomainTool(block.Name) {
					invocations = append(invocations, llm.ToolInvocation{
						Type:   block.Name,
						Params: block.Input,
					})
					payload, _ := json.Marshal(map[string]interface{}{
						"tool":   block.Name,
						"params": block.Input,
					})
					b.lastRaw = append(b.lastRaw, llm.ContentFragment{
						Type:  "tool_call",
						Text:  string(payload),
						ID:    block.ID,
						Name:  block.Name,
						Input: block.Input,
					})
					continue
				}

				// Server tool: execute through the session and feed the
				// result back into the running conversation.
				b.log.Info("", "", "executing server tool", map[string]interface{}{
					"tool": block.Name,
				})
				result, err := session.CallTool(ctx, block.Name, block.Input)
				if err != nil {
					return nil, err
				}

				chain = append(chain,
					apiMessage{Role: "assistant", Content: []contentBlock{{
						Type:  "tool_use",
						ID:    block.ID,
						Name:  block.Name,
						Input: block.Input,
					}}},
					apiMessage{Role: "user", Content: []contentBlock{{
						Type:      "tool_result",
						ToolUseID: block.ID,
						Content:   result.Text(),
					}}},
				)

			case "text":
				texts = append(texts, block.Text)
				b.lastRaw = append(b.lastRaw, llm.ContentFragment{Type: "text", Text: block.Text})

			default:
				b.lastRaw = append(b.lastRaw, llm.ContentFragment{Type: block.Type})
			}
		}

		if len(invocations) > 0 {
			explanation := strings.Join(texts, "\n")
			if explanation == "" {
				explanation = llm.DefaultExplanation
			}
			metrics.ChainIterations.WithLabelValues(b.Name()).Observe(float64(iteration + 1))
			return &llm.ChainResult{
				Explanation: explanation,
				ToolCalls:   invocations,
				Raw:         b.lastRaw,
			}, nil
		}

		if text := strings.Join(texts, "\n"); text != "" && !resp.hasToolUse() {
			metrics.ChainIterations.WithLabelValues(b.Name()).Observe(float64(iteration + 1))
			return &llm.ChainResult{
				Explanation: text,
				ToolCalls:   []llm.ToolInvocation{},
				Raw:         b.lastRaw,
			}, nil
		}
	}

	return nil, &llm.SamplingError{Message: "exceeded maximum tool use iterations"}
}

// createMessage performs one Messages API round trip.
func (b *Backend) createMessage(ctx context.Context, system string, chain []apiMessage, tools []apiTool) (*apiResponse, error) {
	temperature := 0.0
	apiReq := apiRequest{
		Model:       b.model,
		MaxTokens:   DefaultMaxTokens,
		Temperature: &temperature,
		System:      system,
		Messages:    chain,
		Tools:       tools,
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.SamplingError{Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.SamplingError{Message: "failed to create request", Cause: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", b.apiVersion)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &llm.SamplingError{Message: "anthropic API call failed", Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &llm.SamplingError{Message: "anthropic API call failed", Cause: parseAPIError(resp.StatusCode, body)}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.SamplingError{Message: "failed to decode response", Cause: err}
	}

	return &apiResp, nil
}

// convertTools converts provider-neutral definitions to Anthropic's format.
func convertTools(tools []llm.ToolDefinition) []apiTool {
	out := make([]apiTool, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type": "object", "properties": {}}`)
		}
		out = append(out, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

// convertMessages splits system text out (Anthropic carries it in a
// dedicated field) and maps the remaining provider-neutral messages onto
// Messages API shapes.
func convertMessages(messages []llm.Message) (string, []apiMessage) {
	var system []string
	var chain []apiMessage

	for _, m := range messages {
		switch {
		case m.Role == llm.RoleSystem:
			system = append(system, m.Content)

		case m.Role == llm.RoleAssistant && m.ToolCall != nil:
			chain = append(chain, apiMessage{Role: "assistant", Content: []contentBlock{{
				Type:  "tool_use",
				ID:    m.ToolCall.ID,
				Name:  m.ToolCall.Name,
				Input: m.ToolCall.Arguments,
			}}})

		case m.Role == llm.RoleTool:
			chain = append(chain, apiMessage{Role: "user", Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}}})

		case m.Role == llm.RoleAssistant:
			chain = append(chain, apiMessage{Role: "assistant", Content: m.Content})

		default:
			chain = append(chain, apiMessage{Role: "user", Content: m.Content})
		}
	}

	return strings.Join(system, "\n\n"), chain
}

// parseAPIError parses an API error response
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("anthropic API error (status %d): %s", statusCode, string(body))
	}

	return &APIError{
		StatusCode: statusCode,
		Type:       errResp.Error.Type,
		Message:    errResp.Error.Message,
	}
}

// APIError represents an Anthropic API error
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRateLimitError returns true if this is a rate limit error
func (e *APIError) IsRateLimitError() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Type == "rate_limit_error"
}

// IsAuthError returns true if this is an authentication error
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Type == "authentication_error"
}

// Internal API types

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

// apiMessage carries either a plain string or a content-block slice.
type apiMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type apiTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type apiResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Content    []responseBlock `json:"content"`
}

type responseBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

func (r *apiResponse) hasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}
