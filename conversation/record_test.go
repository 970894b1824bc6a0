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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/platform/llm"
)

func sampleRecord() ToolCallRecord {
	return ToolCallRecord{
		Type:      "create_chart",
		Status:    "success",
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Logs:      []string{"validated sql", "chart created"},
		Result: map[string]interface{}{
			"result": map[string]interface{}{
				"sql":  "SELECT month, SUM(amount) FROM orders GROUP BY month",
				"name": "Sales by month",
			},
		},
		ID: "rec-1",
	}
}

func TestTaggedTextRoundTrip(t *testing.T) {
	original := sampleRecord()

	text, err := MarshalTaggedText([]ToolCallRecord{original})
	require.NoError(t, err)
	assert.Contains(t, text, "<tool_calls>")
	assert.Contains(t, text, `type="create_chart"`)

	parsed, err := ParseTaggedText(text)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	got := parsed[0]
	assert.Equal(t, original.Type, got.Type)
	assert.Equal(t, original.Status, got.Status)
	assert.True(t, original.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, original.Logs, got.Logs)
	assert.Equal(t, original.ID, got.ID)

	// The replayed message pair must be equivalent after the round trip.
	wantAssistant, _ := json.Marshal(original.AssistantMessage())
	gotAssistant, _ := json.Marshal(got.AssistantMessage())
	assert.JSONEq(t, string(wantAssistant), string(gotAssistant))

	wantTool, _ := json.Marshal(original.ToolMessage())
	gotTool, _ := json.Marshal(got.ToolMessage())
	assert.JSONEq(t, string(wantTool), string(gotTool))
}

func TestParseTaggedText_AssignsIDWhenMissing(t *testing.T) {
	text := `<tool_calls><tool_call type="list_charts" status="success" timestamp="2026-03-14T09:30:00Z"><logs>[]</logs><result>{}</result></tool_call></tool_calls>`

	parsed, err := ParseTaggedText(text)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.NotEmpty(t, parsed[0].ID)
}

func TestParseTaggedText_Malformed(t *testing.T) {
	cases := []string{
		`<tool_calls><tool_call`,
		`not xml at all`,
		`<tool_calls><tool_call type="x" status="ok" timestamp="yesterday"><logs>[]</logs><result>{}</result></tool_call></tool_calls>`,
		`<tool_calls><tool_call type="x" status="ok" timestamp="2026-03-14T09:30:00Z"><logs>{bad</logs><result>{}</result></tool_call></tool_calls>`,
	}

	for _, text := range cases {
		_, err := ParseTaggedText(text)
		assert.Error(t, err, "input %q should fail", text)
	}
}

func TestAssistantAndToolMessages(t *testing.T) {
	record := sampleRecord()

	assistant := record.AssistantMessage()
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	require.NotNil(t, assistant.ToolCall)
	assert.Equal(t, "rec-1", assistant.ToolCall.ID)
	assert.Equal(t, "create_chart", assistant.ToolCall.Name)

	params, ok := assistant.ToolCall.Arguments["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Sales by month", params["name"])

	tool := record.ToolMessage()
	assert.Equal(t, llm.RoleTool, tool.Role)
	assert.Equal(t, "rec-1", tool.ToolCallID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(tool.Content), &payload))
	assert.Equal(t, "success", payload["status"])
}
