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

package schema

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/platform/toolserver"
)

// fakeSession scripts tool and resource behavior for the schema service.
type fakeSession struct {
	toolResults map[string]string
	toolErrs    map[string]error
	resources   []toolserver.Resource
	contents    map[string]string
	toolCalls   int
}

func textResult(text string) *toolserver.ToolResult {
	return &toolserver.ToolResult{Content: []toolserver.Content{{Type: "text", Text: text}}}
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*toolserver.ToolResult, error) {
	s.toolCalls++
	if err, ok := s.toolErrs[name]; ok {
		return nil, err
	}

	key := name
	if table, ok := args["table_name"].(string); ok {
		key = name + ":" + table
	}
	if text, ok := s.toolResults[key]; ok {
		return textResult(text), nil
	}
	return nil, fmt.Errorf("unexpected tool call %s", key)
}

func (s *fakeSession) ListResources(ctx context.Context) ([]toolserver.Resource, error) {
	return s.resources, nil
}

func (s *fakeSession) ReadResource(ctx context.Context, uri string) (*toolserver.ResourceContents, error) {
	text, ok := s.contents[uri]
	if !ok {
		return nil, fmt.Errorf("unknown resource %s", uri)
	}
	return &toolserver.ResourceContents{
		Contents: []toolserver.Content{{Type: "text", Text: text}},
	}, nil
}

func TestGetSchema_ViaTools(t *testing.T) {
	session := &fakeSession{
		toolResults: map[string]string{
			"list_tables":           `["orders", "users"]`,
			"describe_table:orders": `[{"Field": "id", "Key": "PRI"}, {"Field": "user_id", "Key": "MUL"}]`,
			"describe_table:users":  `[{"Field": "id", "Key": "PRI"}]`,
		},
	}

	svc := NewService()
	snap, err := svc.GetSchema(context.Background(), session)

	require.NoError(t, err)
	assert.Len(t, snap.Tables, 2)
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "users", snap.Relationships[0].ToTable)
}

func TestGetSchema_PartialTableFailureIsSkipped(t *testing.T) {
	session := &fakeSession{
		toolResults: map[string]string{
			"list_tables":          `["users", "broken"]`,
			"describe_table:users": `[{"Field": "id", "Key": "PRI"}]`,
			// describe_table:broken intentionally missing
		},
	}

	svc := NewService()
	snap, err := svc.GetSchema(context.Background(), session)

	require.NoError(t, err)
	assert.Len(t, snap.Tables, 1)
	assert.Contains(t, snap.Tables, "users")
}

func TestGetSchema_ResourceFallback(t *testing.T) {
	session := &fakeSession{
		toolErrs: map[string]error{"list_tables": fmt.Errorf("tool not supported")},
		resources: []toolserver.Resource{
			{URI: "db://orders", Name: "orders"},
		},
		contents: map[string]string{
			"db://orders": `{"structure": [{"Field": "id", "Key": "PRI"}], "sample_data": []}`,
		},
	}

	svc := NewService()
	snap, err := svc.GetSchema(context.Background(), session)

	require.NoError(t, err)
	require.Contains(t, snap.Tables, "orders")
	assert.Equal(t, "id", snap.Tables["orders"][0].Field)
}

func TestGetSchema_NoTablesIsError(t *testing.T) {
	session := &fakeSession{
		toolResults: map[string]string{"list_tables": `[]`},
	}

	svc := NewService()
	_, err := svc.GetSchema(context.Background(), session)

	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
}

func TestGetSchema_Memoized(t *testing.T) {
	session := &fakeSession{
		toolResults: map[string]string{
			"list_tables":          `["users"]`,
			"describe_table:users": `[{"Field": "id", "Key": "PRI"}]`,
		},
	}

	svc := NewService()
	first, err := svc.GetSchema(context.Background(), session)
	require.NoError(t, err)

	callsAfterFirst := session.toolCalls
	second, err := svc.GetSchema(context.Background(), session)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, session.toolCalls)
}

func TestColumnExists(t *testing.T) {
	session := &fakeSession{
		toolResults: map[string]string{
			"list_tables":          `["users"]`,
			"describe_table:users": `[{"Field": "id"}, {"Field": "email"}]`,
		},
	}

	svc := NewService()
	assert.False(t, svc.ColumnExists("email"))

	_, err := svc.GetSchema(context.Background(), session)
	require.NoError(t, err)

	assert.True(t, svc.ColumnExists("email"))
	assert.False(t, svc.ColumnExists("missing"))
}
