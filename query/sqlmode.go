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

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"querycanvas/platform/llm"
	"querycanvas/platform/schema"
	"querycanvas/platform/shared/metrics"
)

// sqlProposal is the JSON body the model returns in legacy SQL mode.
type sqlProposal struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseSQLProposal extracts the first JSON object from model text.
func parseSQLProposal(text string) (*sqlProposal, error) {
	match := jsonBlockRe.FindString(strings.TrimSpace(text))
	if match == "" {
		return nil, &llm.SamplingError{Message: "no JSON found in model response"}
	}

	var proposal sqlProposal
	if err := json.Unmarshal([]byte(match), &proposal); err != nil {
		return nil, &llm.SamplingError{Message: "failed to parse model response as JSON", Cause: err}
	}
	if proposal.SQL == "" {
		return nil, &llm.SamplingError{Message: "model response is missing the sql field"}
	}
	return &proposal, nil
}

// refinable marks a first-execution failure that qualifies for the
// single LLM repair round trip.
type refinable struct {
	errText string
}

func (e *refinable) Error() string {
	return e.errText
}

// runSQLMode executes the model-proposed SQL and, when the first attempt
// fails with a recognizable database error, performs exactly one
// refinement round trip before a final non-retrying attempt.
func (s *Service) runSQLMode(ctx context.Context, session Session, backend llm.Backend, snap *schema.Snapshot, chain *llm.ChainResult) (*Response, error) {
	proposal, err := parseSQLProposal(chain.Explanation)
	if err != nil {
		return nil, err
	}

	result, err := s.executeSQL(ctx, session, proposal.SQL)
	if err == nil {
		return &Response{
			Explanation: proposal.Explanation,
			ToolCalls:   []llm.ToolInvocation{},
			SQL:         proposal.SQL,
			Result:      result,
		}, nil
	}

	var repair *refinable
	if !asRefinable(err, &repair) {
		return nil, err
	}

	s.log.Warn("", "", "sql execution failed, attempting refinement", map[string]interface{}{
		"error": repair.errText,
	})
	metrics.SQLRefinements.Inc()

	refined, err := s.refineSQL(ctx, session, backend, proposal.SQL, repair.errText, snap)
	if err != nil {
		return nil, err
	}

	result, err = s.executeSQL(ctx, session, refined.SQL)
	if err != nil {
		var again *refinable
		if asRefinable(err, &again) {
			return nil, &QueryError{Message: "sql execution failed after refinement: " + again.errText}
		}
		return nil, err
	}

	return &Response{
		Explanation: refined.Explanation,
		ToolCalls:   []llm.ToolInvocation{},
		SQL:         refined.SQL,
		Result:      result,
	}, nil
}

func asRefinable(err error, target **refinable) bool {
	r, ok := err.(*refinable)
	if ok {
		*target = r
	}
	return ok
}

// executeSQL runs one statement through the server's query tool.
// Transport failures are fatal; database rejections and unparsable
// error-shaped payloads come back as refinable.
func (s *Service) executeSQL(ctx context.Context, session Session, sql string) (*QueryResult, error) {
	result, err := session.CallTool(ctx, "query_database", map[string]interface{}{
		"query": sql,
	})
	if err != nil {
		return nil, err
	}

	text := result.Text()
	if text == "" {
		return nil, &QueryError{Message: "no result content returned from query"}
	}
	if result.IsError {
		return nil, &refinable{errText: text}
	}

	var parsed QueryResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		if looksLikeDatabaseError(text) {
			return nil, &refinable{errText: text}
		}
		return nil, &QueryError{Message: "failed to parse query result", Cause: err}
	}
	return &parsed, nil
}

// looksLikeDatabaseError recognizes driver error strings surfaced as
// plain text instead of a JSON result.
func looksLikeDatabaseError(text string) bool {
	if strings.HasPrefix(text, "(") && strings.Contains(text, "Unknown column") {
		return true
	}
	lowered := strings.ToLower(text)
	return strings.Contains(lowered, "sql syntax") || strings.Contains(lowered, "error 1")
}

const refinePromptFormat = `You are an expert in SQL query debugging.

Original SQL query that failed:
%s

Error message:
%s

Database schema:
%s

Fix the SQL query. Return ONLY valid JSON in this format:
{"sql": "fixed SQL query", "explanation": "explanation of fixes"}`

// refineSQL performs the single corrective round trip: failed statement
// plus error text plus schema in, one replacement statement out.
func (s *Service) refineSQL(ctx context.Context, session Session, backend llm.Backend, originalSQL, errText string, snap *schema.Snapshot) (*sqlProposal, error) {
	schemaJSON, err := json.MarshalIndent(snap.Tables, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(refinePromptFormat, originalSQL, errText, schemaJSON)},
		{Role: llm.RoleUser, Content: "Please fix this SQL query"},
	}

	chain, err := backend.ProcessChain(ctx, session, messages, nil)
	if err != nil {
		return nil, err
	}

	return parseSQLProposal(chain.Explanation)
}
