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
	"encoding/json"
	"strings"
	"sync"

	"querycanvas/platform/shared/logger"
	"querycanvas/platform/toolserver"
)

// Session is the subset of the tool session the schema service needs.
type Session interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*toolserver.ToolResult, error)
	ListResources(ctx context.Context) ([]toolserver.Resource, error)
	ReadResource(ctx context.Context, uri string) (*toolserver.ResourceContents, error)
}

// Service fetches and memoizes the schema snapshot for one orchestrator.
// The orchestrator is shared across requests through the registry, so
// the cache is guarded for concurrent use.
type Service struct {
	log *logger.Logger

	mu       sync.Mutex
	snapshot *Snapshot
}

// NewService creates an empty schema service.
func NewService() *Service {
	return &Service{log: logger.New("schema-service")}
}

// GetSchema returns the cached snapshot if present; otherwise it fetches
// schema through the session, preferring the tool-based path and falling
// back to resource listing when tools yield nothing.
func (s *Service) GetSchema(ctx context.Context, session Session) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil {
		return s.snapshot, nil
	}

	snap, err := s.fromTools(ctx, session)
	if err != nil {
		s.log.Warn("", "", "tool-based schema fetch failed, trying resources", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if snap == nil || len(snap.Tables) == 0 {
		snap, err = s.fromResources(ctx, session)
		if err != nil {
			return nil, &Error{Message: "failed to fetch schema", Cause: err}
		}
	}

	if len(snap.Tables) == 0 {
		return nil, &Error{Message: "no tables discovered"}
	}

	snap.Relationships = InferRelationships(snap.Tables)
	s.snapshot = snap
	return snap, nil
}

// ColumnExists reports whether any cached table contains the column.
func (s *Service) ColumnExists(column string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return false
	}
	for _, cols := range s.snapshot.Tables {
		for _, c := range cols {
			if c.Field == column {
				return true
			}
		}
	}
	return false
}

// fromTools builds the snapshot via list_tables + describe_table calls.
// Per-table failures are logged and skipped.
func (s *Service) fromTools(ctx context.Context, session Session) (*Snapshot, error) {
	result, err := session.CallTool(ctx, "list_tables", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	text := result.Text()
	if text == "" || result.IsError {
		return nil, &Error{Message: "list_tables returned no usable content"}
	}

	var tables []string
	if err := json.Unmarshal([]byte(text), &tables); err != nil {
		return nil, &Error{Message: "failed to parse tables list", Cause: err}
	}

	snap := &Snapshot{Tables: map[string][]Column{}}
	for _, table := range tables {
		res, err := session.CallTool(ctx, "describe_table", map[string]interface{}{
			"table_name": table,
		})
		if err != nil || res.IsError || res.Text() == "" {
			s.log.Warn("", "", "skipping table after describe failure", map[string]interface{}{
				"table": table,
			})
			continue
		}

		var cols []Column
		if err := json.Unmarshal([]byte(res.Text()), &cols); err != nil {
			s.log.Warn("", "", "skipping table with unparsable structure", map[string]interface{}{
				"table": table,
				"error": err.Error(),
			})
			continue
		}

		snap.Tables[table] = cols
	}

	return snap, nil
}

// resourcePayload is the shape written by the database tool server for a
// table resource: structure plus a few sample rows.
type resourcePayload struct {
	Structure []Column `json:"structure"`
}

// fromResources builds the snapshot by reading one resource per table.
func (s *Service) fromResources(ctx context.Context, session Session) (*Snapshot, error) {
	resources, err := session.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Tables: map[string][]Column{}}
	for _, resource := range resources {
		if resource.URI == "" {
			continue
		}

		contents, err := session.ReadResource(ctx, resource.URI)
		if err != nil || contents.Text() == "" {
			s.log.Warn("", "", "skipping unreadable resource", map[string]interface{}{
				"uri": resource.URI,
			})
			continue
		}

		var payload resourcePayload
		if err := json.Unmarshal([]byte(contents.Text()), &payload); err != nil {
			continue
		}

		table := resource.URI
		if idx := strings.LastIndex(table, "/"); idx >= 0 {
			table = table[idx+1:]
		}
		snap.Tables[table] = payload.Structure
	}

	return snap, nil
}
