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

// Package schema retrieves and caches database schema through a tool
// session, and heuristically infers foreign-key-like relationships
// between tables.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one table column. The JSON field names mirror the
// DESCRIBE output shape produced by the database tool server.
type Column struct {
	Field   string `json:"Field"`
	Type    string `json:"Type"`
	Null    string `json:"Null"`
	Key     string `json:"Key"`
	Default string `json:"Default,omitempty"`
	Extra   string `json:"Extra,omitempty"`
}

// Relationship is an inferred link between two tables. It is heuristic,
// not constraint-derived: false positives and negatives are possible.
type Relationship struct {
	FromTable  string `json:"from_table"`
	ToTable    string `json:"to_table"`
	Kind       string `json:"type"`
	FromColumn string `json:"from_column"`
	ToColumn   string `json:"to_column"`
}

// Snapshot is the full schema picture for one database session. Once
// populated it is treated as immutable and reused for every turn within
// the session.
type Snapshot struct {
	Tables        map[string][]Column `json:"tables"`
	Relationships []Relationship      `json:"relationships"`
}

// Error indicates schema retrieval failed entirely. Partial per-table
// failures degrade gracefully and never produce this error.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema error: %s: %v", e.Message, e.Cause)
	}
	return "schema error: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InferRelationships derives foreign-key-like relationships from column
// naming. A column is a candidate when its key role is a multi-value
// index (MUL) or its name ends in "_id"; stripping the suffix must yield
// the name of another table in the snapshot. The referenced column is
// assumed to be that table's primary key "id".
//
// Best-effort only. When several tables could match, the exact
// stripped-name match wins; tables are visited in sorted order so the
// result is deterministic.
func InferRelationships(tables map[string][]Column) []Relationship {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var rels []Relationship
	for _, table := range names {
		for _, col := range tables[table] {
			isMul := strings.EqualFold(col.Key, "MUL")
			hasSuffix := strings.HasSuffix(strings.ToLower(col.Field), "_id")
			if !isMul && !hasSuffix {
				continue
			}

			target := strings.TrimSuffix(strings.ToLower(col.Field), "_id")
			if target == "" || target == table {
				continue
			}
			if _, ok := tables[target]; !ok {
				continue
			}

			rels = append(rels, Relationship{
				FromTable:  table,
				ToTable:    target,
				Kind:       "foreign_key",
				FromColumn: col.Field,
				ToColumn:   "id",
			})
		}
	}

	return rels
}
