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

// Package dbserver is the bundled tool server: it speaks the stdio
// JSON-RPC protocol on one side and a SQL database on the other,
// exporting read-only query and introspection tools.
package dbserver

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// Dialect selects the introspection statements for the connected
// database.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ColumnInfo mirrors MySQL DESCRIBE output. The postgres dialect maps
// information_schema rows onto the same shape so clients see one format.
type ColumnInfo struct {
	Field   string  `json:"Field"`
	Type    string  `json:"Type"`
	Null    string  `json:"Null"`
	Key     string  `json:"Key"`
	Default *string `json:"Default"`
	Extra   string  `json:"Extra"`
}

// QueryResult is the tabular outcome of query_database.
type QueryResult struct {
	Columns      []string        `json:"columns"`
	Rows         [][]interface{} `json:"rows"`
	AffectedRows int             `json:"affected_rows"`
}

// forbiddenRe matches mutating keywords on word boundaries so column
// names like created_at pass.
var forbiddenRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant)\b`)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// validateReadOnly rejects statements that could mutate the database.
func validateReadOnly(query string) error {
	if forbiddenRe.MatchString(query) {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	return nil
}

// validateIdent guards identifiers that get interpolated into
// introspection statements.
func validateIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

type database struct {
	db      *sql.DB
	dialect Dialect
}

func (d *database) listTables(ctx context.Context) ([]string, error) {
	var stmt string
	switch d.dialect {
	case DialectPostgres:
		stmt = "SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename"
	default:
		stmt = "SHOW TABLES"
	}

	rows, err := d.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (d *database) describeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	if err := validateIdent(table); err != nil {
		return nil, err
	}

	if d.dialect == DialectPostgres {
		return d.describePostgres(ctx, table)
	}

	rows, err := d.db.QueryContext(ctx, "DESCRIBE "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c   ColumnInfo
			def sql.NullString
		)
		if err := rows.Scan(&c.Field, &c.Type, &c.Null, &c.Key, &def, &c.Extra); err != nil {
			return nil, err
		}
		if def.Valid {
			c.Default = &def.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *database) describePostgres(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
		       COALESCE((
		           SELECT 'PRI' FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON tc.constraint_name = kcu.constraint_name
		           WHERE tc.table_name = c.table_name
		             AND kcu.column_name = c.column_name
		             AND tc.constraint_type = 'PRIMARY KEY'
		           LIMIT 1
		       ), '') AS key_role
		FROM information_schema.columns c
		WHERE c.table_name = $1
		ORDER BY c.ordinal_position
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			c        ColumnInfo
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&c.Field, &c.Type, &nullable, &def, &c.Key); err != nil {
			return nil, err
		}
		if nullable == "YES" {
			c.Null = "YES"
		} else {
			c.Null = "NO"
		}
		if def.Valid {
			c.Default = &def.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// executeQuery runs one read-only statement and renders the result set.
func (d *database) executeQuery(ctx context.Context, query string) (*QueryResult, error) {
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.AffectedRows = len(result.Rows)
	return result, nil
}

// sampleRows returns up to limit rows from a table as column/value maps.
func (d *database) sampleRows(ctx context.Context, table string, limit int) ([]map[string]interface{}, error) {
	if err := validateIdent(table); err != nil {
		return nil, err
	}

	result, err := d.executeQuery(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit))
	if err != nil {
		return nil, err
	}

	samples := make([]map[string]interface{}, 0, len(result.Rows))
	for _, row := range result.Rows {
		m := make(map[string]interface{}, len(result.Columns))
		for i, col := range result.Columns {
			m[col] = row[i]
		}
		samples = append(samples, m)
	}
	return samples, nil
}
