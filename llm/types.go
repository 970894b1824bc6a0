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

// Package llm defines the provider-independent contract between the query
// orchestrator and the interchangeable LLM backends. Both backends consume
// the same message and tool shapes and normalize their provider responses
// into the same ChainResult, so the orchestrator and the conversation
// formatter never see provider-specific payloads.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"querycanvas/platform/toolserver"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is an assistant-proposed tool call carried inside a Message.
type ToolCallRef struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one provider-agnostic conversation entry. Exactly one of the
// optional shapes applies: a plain content message, an assistant message
// proposing a tool call (ToolCall set), or a tool-result message
// (RoleTool with ToolCallID set).
type Message struct {
	Role       Role         `json:"role"`
	Content    string       `json:"content,omitempty"`
	ToolCall   *ToolCallRef `json:"tool_call,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes one callable tool in provider-neutral form.
// Parameters is a JSON-Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolInvocation is a domain tool call the model requested. It is never
// executed by this engine; it is surfaced verbatim to the caller.
type ToolInvocation struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// ContentFragment is one typed fragment of a raw provider response,
// normalized across backends for later replay.
type ContentFragment struct {
	Type  string                 `json:"type"` // "text", "tool_call", or provider-specific
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// ChainResult is the normalized outcome of one tool-use loop run.
type ChainResult struct {
	Explanation string           `json:"explanation"`
	ToolCalls   []ToolInvocation `json:"tool_calls"`
	Raw         []ContentFragment `json:"raw,omitempty"`
}

// Session is the subset of the tool session a backend needs to execute
// server tools mid-loop.
type Session interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*toolserver.ToolResult, error)
}

// Backend runs the bounded tool-use loop against one LLM provider.
// Implementations keep a per-call raw response trace and are therefore
// request-scoped: a single instance must not serve concurrent
// ProcessChain calls.
type Backend interface {
	// Name returns the backend identifier ("anthropic", "openai").
	Name() string

	// ProcessChain drives the model/tool loop until the model produces
	// domain tool invocations or a final text answer, executing server
	// tools through the session as it goes. Exhausting the iteration
	// bound yields a SamplingError.
	ProcessChain(ctx context.Context, session Session, messages []Message, externalTools []ToolDefinition) (*ChainResult, error)

	// LastRaw returns the raw content trace accumulated by the most
	// recent ProcessChain call.
	LastRaw() []ContentFragment
}

// SamplingError indicates a backend could not produce a usable result:
// iteration exhaustion, transport failure, or malformed model output.
type SamplingError struct {
	Message string
	Cause   error
}

func (e *SamplingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sampling error: %s: %v", e.Message, e.Cause)
	}
	return "sampling error: " + e.Message
}

func (e *SamplingError) Unwrap() error {
	return e.Cause
}

// DefaultExplanation is returned when the model requested domain tools
// without any accompanying text.
const DefaultExplanation = "Executing operations..."
