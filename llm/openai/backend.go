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

// Package openai implements the LLM backend contract against the OpenAI
// Chat Completions API with function calling.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"querycanvas/platform/llm"
	"querycanvas/platform/shared/logger"
	"querycanvas/platform/shared/metrics"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultModel is the default model
	DefaultModel = "gpt-4o-2024-11-20"

	// DefaultMaxIterations bounds the tool-use loop
	DefaultMaxIterations = 10
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI backend
type Config struct {
	APIKey        string        // Required: OpenAI API key
	BaseURL       string        // Optional: API base URL (default: https://api.openai.com)
	Model         string        // Optional: Default model
	Timeout       time.Duration // Optional: HTTP timeout (default: 120s)
	MaxIterations int           // Optional: Tool-use loop bound (default: 10)
}

// Backend implements llm.Backend for OpenAI chat models. Instances are
// request-scoped: the raw response trace is reset on every ProcessChain
// call and is not safe for concurrent use.
type Backend struct {
	apiKey        string
	baseURL       string
	model         string
	maxIterations int
	client        HTTPClient
	log           *logger.Logger

	lastRaw []llm.ContentFragment
}

// New creates a new OpenAI backend instance
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           logger.New("llm-openai"),
	}, nil
}

// Name returns the backend identifier
func (b *Backend) Name() string {
	return "openai"
}

// LastRaw returns the raw content trace from the most recent ProcessChain call
func (b *Backend) LastRaw() []llm.ContentFragment {
	return b.lastRaw
}

// ProcessChain implements llm.Backend. The loop shape is identical to the
// Anthropic backend; only the wire format differs.
func (b *Backend) ProcessChain(ctx context.Context, session llm.Session, messages []llm.Message, externalTools []llm.ToolDefinition) (*llm.ChainResult, error) {
	b.lastRaw = nil

	merged, err := llm.MergeTools(externalTools)
	if err != nil {
		return nil, &llm.SamplingError{Message: "invalid tool configuration", Cause: err}
	}
	tools := convertTools(merged)

	chain := convertMessages(messages)

	for iteration := 0; iteration < b.maxIterations; iteration++ {
		b.log.Debug("", "", "processing message chain iteration", map[string]interface{}{
			"iteration": iteration,
		})

		message, err := b.createCompletion(ctx, chain, tools)
		if err != nil {
			return nil, err
		}

		if len(message.ToolCalls) == 0 {
			b.lastRaw = append(b.lastRaw, llm.ContentFragment{Type: "text", Text: message.Content})
			metrics.ChainIterations.WithLabelValues(b.Name()).Observe(float64(iteration + 1))
			return &llm.ChainResult{
				Explanation: message.Content,
				ToolCalls:   []llm.ToolInvocation{},
				Raw:         b.lastRaw,
			}, nil
		}

		var invocations []llm.ToolInvocation
		for _, call := range message.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, &llm.SamplingError{
					Message: fmt.Sprintf("model produced malformed arguments for tool %q", call.Function.Name),
					Cause:   err,
				}
			}

			if llm.IsDomainTool(call.Function.Name) {
				invocations = append(invocations, llm.ToolInvocation{
					Type:   call.Function.Name,
					Params: args,
				})
				payload, _ := json.Marshal(map[string]interface{}{
					"tool":   call.Function.Name,
					"params": args,
				})
				b.lastRaw = append(b.lastRaw, llm.ContentFragment{
					Type:  "tool_call",
					Text:  string(payload),
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: args,
				})
				continue
			}

			// Server tool: execute through the session and feed the
			// result back into the running conversation.
			b.log.Info("", "", "executing server tool", map[string]interface{}{
				"tool": call.Function.Name,
			})
			result, err := session.CallTool(ctx, call.Function.Name, args)
			if err != nil {
				return nil, err
			}

			chain = append(chain,
				apiMessage{Role: "assistant", ToolCalls: []apiToolCall{call}},
				apiMessage{Role: "tool", Content: result.Text(), ToolCallID: call.ID},
			)
		}

		if len(invocations) > 0 {
			explanation := message.Content
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
	}

	return nil, &llm.SamplingError{Message: "exceeded maximum tool use iterations"}
}

// createCompletion performs one Chat Completions API round trip.
func (b *Backend) createCompletion(ctx context.Context, chain []apiMessage, tools []apiTool) (*apiResponseMessage, error) {
	apiReq := apiRequest{
		Model:       b.model,
		Messages:    chain,
		Tools:       tools,
		ToolChoice:  "auto",
		Temperature: 0,
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.SamplingError{Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.SamplingError{Message: "failed to create request", Cause: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &llm.SamplingError{Message: "openai API call failed", Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &llm.SamplingError{Message: "openai API call failed", Cause: parseAPIError(resp.StatusCode, body)}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.SamplingError{Message: "failed to decode response", Cause: err}
	}

	if len(apiResp.Choices) == 0 {
		return nil, &llm.SamplingError{Message: "openai returned no choices"}
	}

	return &apiResp.Choices[0].Message, nil
}

// convertTools converts provider-neutral definitions to OpenAI's
// function-calling format.
func convertTools(tools []llm.ToolDefinition) []apiTool {
	out := make([]apiTool, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type": "object", "properties": {}}`)
		}
		out = append(out, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

// convertMessages maps provider-neutral messages onto chat-completions
// shapes, reconstructing assistant tool_calls / tool result pairs.
func convertMessages(messages []llm.Message) []apiMessage {
	chain := make([]apiMessage, 0, len(messages))

	for _, m := range messages {
		switch {
		case m.Role == llm.RoleAssistant && m.ToolCall != nil:
			args, _ := json.Marshal(m.ToolCall.Arguments)
			chain = append(chain, apiMessage{
				Role: "assistant",
				ToolCalls: []apiToolCall{{
					ID:   m.ToolCall.ID,
					Type: "function",
					Function: apiFunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: string(args),
					},
				}},
			})

		case m.Role == llm.RoleTool:
			chain = append(chain, apiMessage{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		default:
			chain = append(chain, apiMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	return chain
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
		return fmt.Errorf("openai API error (status %d): %s", statusCode, string(body))
	}

	return &APIError{
		StatusCode: statusCode,
		Type:       errResp.Error.Type,
		Message:    errResp.Error.Message,
	}
}

// APIError represents an OpenAI API error
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRateLimitError returns true if this is a rate limit error
func (e *APIError) IsRateLimitError() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError returns true if this is an authentication error
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Internal API types

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	Temperature float64      `json:"temperature"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type apiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function apiFunctionCall `json:"function"`
}

type apiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      apiResponseMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
}

type apiResponseMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls"`
}
