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
	"fmt"
	"strings"

	"querycanvas/platform/llm"
	"querycanvas/platform/schema"
)

// QueryType selects the system-prompt branch and which domain tools the
// prompt advertises as usable. The two branches are mutually exclusive
// in the tools they permit.
type QueryType string

const (
	QueryTypeChart     QueryType = "chart"
	QueryTypeDashboard QueryType = "dashboard"
	// QueryTypeSQL is the legacy single-statement mode: the model returns
	// one SQL query which the orchestrator executes itself.
	QueryTypeSQL QueryType = "sql"
)

// ParseQueryType validates a caller-supplied query type, defaulting to
// chart mode when empty.
func ParseQueryType(s string) (QueryType, error) {
	switch QueryType(s) {
	case "":
		return QueryTypeChart, nil
	case QueryTypeChart, QueryTypeDashboard, QueryTypeSQL:
		return QueryType(s), nil
	default:
		return "", fmt.Errorf("unknown query type %q", s)
	}
}

// PromptInput carries everything the system prompt depends on.
type PromptInput struct {
	QueryType    QueryType
	DatabaseName string
	Schema       *schema.Snapshot
	// ChartID targets an existing chart for update-style requests in
	// dashboard mode. Zero means no specific chart.
	ChartID int
}

const promptPreamble = `You are an expert in converting natural language questions into SQL queries and data visualizations.

Database: %s

Database schema:
%s

Inferred relationships (heuristic, best-effort):
%s
`

const chartInstructions = `Build exactly ONE visualization that answers the user's question.

Rules:
1. Use the preview_chart tool to return the visualization. Dashboard tools (%s) are NOT available in this mode and must never be called.
2. Write a single SQL query against the schema above. Use the schema inspection tools if you need more detail about a table before writing SQL.
3. Choose the visualization type that best fits the data: time series -> line, area, bar; comparisons -> bar, pie, row; distributions -> scatter; single values -> number, gauge, progress; geographic -> map.
4. Sort results in a meaningful order and set clear axis titles in viz_settings.
5. Stacked bar charts are preferred over multi-line charts for daily or weekly aggregates.`

const dashboardInstructions = `Build or modify a multi-chart dashboard that answers the user's question.

Rules:
1. Use the dashboard tools (%s) to inspect and modify the dashboard. The single-chart preview tool (preview_chart) is NOT available in this mode and must never be called.
2. Call get_dashboard_cards or list_charts before modifying anything so you work from current state.
3. The dashboard grid is 12 columns wide. Position cards to form a cohesive layout without overlaps; lead with headline numbers, follow with trends and breakdowns.
4. Use add_markdown for section headers and explanatory notes.
5. Write one SQL query per chart against the schema above. Use the schema inspection tools when you need more table detail.`

const sqlInstructions = `Answer the user's question with exactly one SQL query.

Rules:
1. Return ONLY valid JSON in this format:
{"sql": "your SQL query", "explanation": "detailed explanation of what the query does"}
2. The query must be a single SELECT statement against the schema above.
3. Use escape characters for newlines and indentation inside the SQL string.`

// BuildSystemPrompt renders the system prompt for a query type. Chart and
// dashboard modes advertise disjoint domain-tool sets.
func BuildSystemPrompt(in PromptInput) (string, error) {
	schemaJSON, err := json.MarshalIndent(in.Schema.Tables, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	relJSON, err := json.MarshalIndent(in.Schema.Relationships, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode relationships: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, promptPreamble, in.DatabaseName, schemaJSON, relJSON)
	b.WriteString("\n")

	switch in.QueryType {
	case QueryTypeChart:
		fmt.Fprintf(&b, chartInstructions, strings.Join(llm.DashboardToolNames(), ", "))
	case QueryTypeDashboard:
		fmt.Fprintf(&b, dashboardInstructions, strings.Join(llm.DashboardToolNames(), ", "))
		if in.ChartID > 0 {
			fmt.Fprintf(&b, "\n6. The user's request concerns the existing chart with id %d. Load it before changing it.", in.ChartID)
		}
	case QueryTypeSQL:
		b.WriteString(sqlInstructions)
	default:
		return "", fmt.Errorf("unknown query type %q", in.QueryType)
	}

	return b.String(), nil
}

// AllowedTools returns the domain tools a query type may use. SQL mode
// uses no domain tools at all.
func AllowedTools(t QueryType) []string {
	switch t {
	case QueryTypeChart:
		return llm.ChartToolNames()
	case QueryTypeDashboard:
		return llm.DashboardToolNames()
	default:
		return nil
	}
}
