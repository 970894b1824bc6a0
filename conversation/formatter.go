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

package conversation

import (
	"fmt"

	"querycanvas/platform/llm"
)

// Turn is one prior conversation entry supplied by the caller. Tool calls
// executed during that turn arrive either as structured records
// (preferred) or as a legacy tagged-text block; structured records win
// when both are present.
type Turn struct {
	Role         string                `json:"role"`
	Content      string                `json:"content"`
	RawFragments []llm.ContentFragment `json:"raw_llm_response,omitempty"`
	ToolCalls    []ToolCallRecord      `json:"tool_call_records,omitempty"`
	ToolCallsLog string                `json:"tool_calls,omitempty"`
}

// HistoryError reports a corrupted tool-call block on one history turn.
// It fails the request rather than silently dropping history, since
// silent loss would change model behavior.
type HistoryError struct {
	Turn  int
	Cause error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("invalid tool call history on turn %d: %v", e.Turn, e.Cause)
}

func (e *HistoryError) Unwrap() error {
	return e.Cause
}

// contentFor picks the model-visible text for a turn: the last raw text
// fragment when a trace was captured, otherwise the turn's own content.
func contentFor(turn Turn) string {
	content := turn.Content
	for _, frag := range turn.RawFragments {
		if frag.Type == "text" && frag.Text != "" {
			content = frag.Text
		}
	}
	return content
}

// BuildMessages reconstructs the full message sequence for a new turn: a
// leading system message, each history turn followed by its replayed
// assistant-call/tool-result pairs, and the current question last.
func BuildMessages(systemPrompt, question string, history []Turn) ([]llm.Message, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
	}

	for i, turn := range history {
		messages = append(messages, llm.Message{
			Role:    llm.Role(turn.Role),
			Content: contentFor(turn),
		})

		records := turn.ToolCalls
		if len(records) == 0 && turn.ToolCallsLog != "" {
			parsed, err := ParseTaggedText(turn.ToolCallsLog)
			if err != nil {
				return nil, &HistoryError{Turn: i, Cause: err}
			}
			records = parsed
		}

		for _, record := range records {
			messages = append(messages, record.AssistantMessage(), record.ToolMessage())
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages, nil
}
