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

// Package conversation reconstructs the provider-neutral message sequence
// for a new turn from free-text history and previously executed tool-call
// records, and builds the mode-specific system prompt.
package conversation

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"querycanvas/platform/llm"
)

// ToolCallRecord is one previously executed domain tool call. Records are
// carried as structured data on a turn; the tagged-text form exists only
// for compatibility with transcripts produced by older clients.
type ToolCallRecord struct {
	Type      string                 `json:"type"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Logs      []string               `json:"logs"`
	Result    map[string]interface{} `json:"result"`
	ID        string                 `json:"id,omitempty"`
}

// xml wire shapes for the legacy tagged-text transcript format
type xmlToolCalls struct {
	XMLName xml.Name      `xml:"tool_calls"`
	Calls   []xmlToolCall `xml:"tool_call"`
}

type xmlToolCall struct {
	Type      string `xml:"type,attr"`
	Status    string `xml:"status,attr"`
	Timestamp string `xml:"timestamp,attr"`
	ID        string `xml:"id,attr,omitempty"`
	Logs      string `xml:"logs"`
	Result    string `xml:"result"`
}

// MarshalTaggedText serializes records into the legacy
// <tool_calls><tool_call .../></tool_calls> transcript block. Logs and
// result payloads are embedded as JSON text.
func MarshalTaggedText(records []ToolCallRecord) (string, error) {
	wire := xmlToolCalls{Calls: make([]xmlToolCall, 0, len(records))}

	for _, r := range records {
		logs := r.Logs
		if logs == nil {
			logs = []string{}
		}
		logsJSON, err := json.Marshal(logs)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool call logs: %w", err)
		}

		result := r.Result
		if result == nil {
			result = map[string]interface{}{}
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool call result: %w", err)
		}

		wire.Calls = append(wire.Calls, xmlToolCall{
			Type:      r.Type,
			Status:    r.Status,
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
			ID:        r.ID,
			Logs:      string(logsJSON),
			Result:    string(resultJSON),
		})
	}

	out, err := xml.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool calls: %w", err)
	}
	return string(out), nil
}

// ParseTaggedText parses a legacy tagged-text block back into records.
// Records without an embedded id are assigned a fresh one so the
// assistant/tool message pair can be correlated.
func ParseTaggedText(text string) ([]ToolCallRecord, error) {
	var wire xmlToolCalls
	if err := xml.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse tool call block: %w", err)
	}

	records := make([]ToolCallRecord, 0, len(wire.Calls))
	for _, c := range wire.Calls {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Timestamp))
		if err != nil {
			return nil, fmt.Errorf("failed to parse tool call timestamp %q: %w", c.Timestamp, err)
		}

		logs := []string{}
		if strings.TrimSpace(c.Logs) != "" {
			if err := json.Unmarshal([]byte(c.Logs), &logs); err != nil {
				return nil, fmt.Errorf("failed to parse tool call logs: %w", err)
			}
		}

		result := map[string]interface{}{}
		if strings.TrimSpace(c.Result) != "" {
			if err := json.Unmarshal([]byte(c.Result), &result); err != nil {
				return nil, fmt.Errorf("failed to parse tool call result: %w", err)
			}
		}

		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}

		records = append(records, ToolCallRecord{
			Type:      c.Type,
			Status:    c.Status,
			Timestamp: ts,
			Logs:      logs,
			Result:    result,
			ID:        id,
		})
	}

	return records, nil
}

// AssistantMessage renders the record as the assistant message that
// proposed the call. Arguments carry the recorded result under "params",
// matching what the client executed.
func (r ToolCallRecord) AssistantMessage() llm.Message {
	params := r.Result["result"]
	if params == nil {
		params = map[string]interface{}{}
	}

	return llm.Message{
		Role: llm.RoleAssistant,
		ToolCall: &llm.ToolCallRef{
			ID:   r.ID,
			Name: r.Type,
			Arguments: map[string]interface{}{
				"params": params,
			},
		},
	}
}

// ToolMessage renders the record as the matching tool-result message.
func (r ToolCallRecord) ToolMessage() llm.Message {
	payload, _ := json.MarshalIndent(map[string]interface{}{
		"status": r.Status,
		"logs":   r.Logs,
		"result": r.Result,
	}, "", "  ")

	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(payload),
		ToolCallID: r.ID,
	}
}
