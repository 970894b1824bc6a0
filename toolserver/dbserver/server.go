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

package dbserver

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"querycanvas/platform/shared/logger"
)

const (
	serverName    = "db-query-server"
	serverVersion = "0.1.0"

	sampleRowLimit = 5
	maxLineSize    = 16 * 1024 * 1024
)

// Server handles newline-delimited JSON-RPC requests over a reader and
// writer pair, typically the process's stdin and stdout.
type Server struct {
	db  database
	log *logger.Logger

	writeMu sync.Mutex
	out     io.Writer
}

// New creates a server over an open database handle.
func New(db *sql.DB, dialect Dialect) *Server {
	return &Server{
		db:  database{db: db, dialect: dialect},
		log: logger.New("dbserver"),
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func textResult(v interface{}) (*toolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &toolResult{Content: []content{{Type: "text", Text: string(data)}}}, nil
}

func errorResult(err error) *toolResult {
	return &toolResult{
		Content: []content{{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}

// Serve reads requests until EOF or a shutdown request. Protocol-level
// problems produce JSON-RPC errors; tool execution failures produce
// isError tool results so the client can feed them back to the model.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("", "", "skipping unparsable frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		if req.Method == "shutdown" {
			s.reply(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}})
			return nil
		}

		s.dispatch(ctx, req)
	}
	return scanner.Err()
}

func (s *Server) reply(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.ErrorWithErr("", "", "failed to encode response", err, nil)
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.log.ErrorWithErr("", "", "failed to write response", err, nil)
	}
}

func (s *Server) replyResult(id int64, result interface{}) {
	s.reply(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) replyError(id int64, code int, message string) {
	s.reply(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) dispatch(ctx context.Context, req request) {
	switch req.Method {
	case "initialize":
		s.replyResult(req.ID, map[string]string{
			"serverName":    serverName,
			"serverVersion": serverVersion,
		})

	case "tools/list":
		s.replyResult(req.ID, map[string]interface{}{"tools": toolDefinitions()})

	case "tools/call":
		s.handleCallTool(ctx, req)

	case "prompts/list":
		s.replyResult(req.ID, map[string]interface{}{"prompts": promptDefinitions()})

	case "resources/list":
		s.handleListResources(ctx, req)

	case "resources/read":
		s.handleReadResource(ctx, req)

	default:
		s.replyError(req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func toolDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "query_database",
			"description": "Execute a read-only SQL query against the database",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The SQL SELECT query to execute",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "list_tables",
			"description": "List all available tables in the database",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "describe_table",
			"description": "Get the structure of a specific table",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table_name": map[string]interface{}{
						"type":        "string",
						"description": "Name of the table to describe",
					},
				},
				"required": []string{"table_name"},
			},
		},
	}
}

func promptDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "query_table",
			"description": "Generate a query for a specific table",
			"arguments": []map[string]interface{}{
				{
					"name":        "table_name",
					"description": "Name of the table to query",
					"required":    true,
				},
				{
					"name":        "question",
					"description": "Natural language question about the table",
					"required":    true,
				},
			},
		},
	}
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleCallTool(ctx context.Context, req request) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.replyError(req.ID, -32602, "invalid tools/call params: "+err.Error())
		return
	}

	result, err := s.callTool(ctx, params)
	if err != nil {
		s.replyResult(req.ID, errorResult(err))
		return
	}
	s.replyResult(req.ID, result)
}

func (s *Server) callTool(ctx context.Context, params callParams) (*toolResult, error) {
	switch params.Name {
	case "query_database":
		query, _ := params.Arguments["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("query argument is required")
		}
		result, err := s.db.executeQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		return textResult(result)

	case "list_tables":
		tables, err := s.db.listTables(ctx)
		if err != nil {
			return nil, err
		}
		if tables == nil {
			tables = []string{}
		}
		return textResult(tables)

	case "describe_table":
		table, _ := params.Arguments["table_name"].(string)
		if table == "" {
			return nil, fmt.Errorf("table_name argument is required")
		}
		cols, err := s.db.describeTable(ctx, table)
		if err != nil {
			return nil, err
		}
		return textResult(cols)

	default:
		return nil, fmt.Errorf("unknown tool: %s", params.Name)
	}
}

func (s *Server) handleListResources(ctx context.Context, req request) {
	tables, err := s.db.listTables(ctx)
	if err != nil {
		s.replyError(req.ID, -32000, "failed to list tables: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(tables))
	for _, table := range tables {
		resources = append(resources, map[string]interface{}{
			"uri":      "db://" + table,
			"name":     table,
			"mimeType": "application/json",
		})
	}
	s.replyResult(req.ID, map[string]interface{}{"resources": resources})
}

type readParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleReadResource(ctx context.Context, req request) {
	var params readParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.replyError(req.ID, -32602, "invalid resources/read params: "+err.Error())
		return
	}

	table := strings.TrimPrefix(params.URI, "db://")
	structure, err := s.db.describeTable(ctx, table)
	if err != nil {
		s.replyError(req.ID, -32000, "failed to describe table: "+err.Error())
		return
	}
	samples, err := s.db.sampleRows(ctx, table, sampleRowLimit)
	if err != nil {
		s.replyError(req.ID, -32000, "failed to sample rows: "+err.Error())
		return
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"structure":   structure,
		"sample_data": samples,
	}, "", "  ")
	if err != nil {
		s.replyError(req.ID, -32000, "failed to encode resource: "+err.Error())
		return
	}

	s.replyResult(req.ID, map[string]interface{}{
		"contents": []content{{Type: "text", Text: string(payload)}},
	})
}
