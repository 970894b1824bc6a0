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

package llm

import (
	"encoding/json"
	"fmt"
)

// CatalogVersion identifies the fixed domain-tool catalogue revision.
const CatalogVersion = "v1"

// displayTypes are the visualization types accepted by chart tools.
const displayTypesEnum = `["line", "bar", "pie", "row", "area", "table", "scatter",
"map", "funnel", "combo", "waterfall", "trend", "progress",
"gauge", "number", "pivot table"]`

// vizSettingsSchema is the shared visualization-settings parameter spec.
var vizSettingsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"graph.dimensions": {"type": "array", "items": {"type": "string"}},
		"graph.metrics": {"type": "array", "items": {"type": "string"}},
		"graph.show_values": {"type": "boolean"},
		"graph.x_axis.title_text": {"type": ["string", "null"]},
		"graph.y_axis.title_text": {"type": ["string", "null"]},
		"stackable.stack_type": {"type": ["string", "null"]},
		"pie.dimension": {"type": ["string", "array", "null"]},
		"pie.metric": {"type": ["string", "null"]},
		"scatter.bubble": {"type": ["string", "null"]},
		"series_settings": {"type": "object"},
		"column_settings": {"type": "object"}
	},
	"description": "Complete visualization settings for the rendering client"
}`)

// domainTools is the fixed, caller-executed catalogue. The engine never
// runs these itself; the model may request them and the invocations are
// returned to the caller verbatim.
var domainTools = buildDomainTools()

func buildDomainTools() []ToolDefinition {
	followup := `"requires_followup": {"type": "boolean", "description": "Indicates if the client should send the tool call result automatically"}`
	position := `"size_x": {"type": "integer", "minimum": 1, "maximum": 12},
		"size_y": {"type": "integer", "minimum": 1},
		"row": {"type": "integer", "minimum": 0},
		"col": {"type": "integer", "minimum": 0, "maximum": 11}`
	chartFields := fmt.Sprintf(`"sql": {"type": "string", "description": "SQL query for the chart"},
		"explanation": {"type": "string", "description": "Explanation of what the query does"},
		"name": {"type": "string", "description": "Clear name for the chart"},
		"description": {"type": "string", "description": "Detailed description of the chart"},
		"display_type": {"type": "string", "enum": %s, "description": "Type of visualization"},
		"viz_settings": %s`, displayTypesEnum, vizSettingsSchema)

	return []ToolDefinition{
		{
			Name: "list_charts",
			Description: "For dashboard operations only. Retrieves a list of all available charts " +
				"in the collection. Use this to get an overview of existing charts before making modifications.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {%s},
				"required": []
			}`, followup)),
		},
		{
			Name: "load_chart",
			Description: "For dashboard operations only. Retrieves the current configuration and metadata " +
				"of an existing chart. Use this before making modifications to ensure you have the latest settings.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"chart_id": {"type": "integer", "description": "ID of the chart to load"},
					%s
				},
				"required": ["chart_id"]
			}`, followup)),
		},
		{
			Name: "preview_chart",
			Description: "For single-chart operations only. Renders a one-off chart preview for the user " +
				"without adding it to any dashboard.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					%s,
					%s
				},
				"required": ["sql", "name", "description", "display_type", "viz_settings", "explanation"]
			}`, chartFields, followup)),
		},
		{
			Name:        "create_chart",
			Description: "For dashboard operations only. Creates a chart and adds it to the dashboard.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					%s,
					%s,
					%s
				},
				"required": ["sql", "name", "description", "display_type", "viz_settings", "explanation", "size_x", "size_y", "row", "col"]
			}`, chartFields, position, followup)),
		},
		{
			Name:        "update_chart",
			Description: "For dashboard operations only. Update/edit an existing chart's properties.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"card_id": {"type": "integer", "description": "ID of the chart to update"},
					%s,
					%s
				},
				"required": ["card_id", "sql", "name", "description", "display_type", "viz_settings", "explanation"]
			}`, chartFields, followup)),
		},
		{
			Name: "delete_chart",
			Description: "For dashboard operations only. Permanently removes a chart from both the dashboard " +
				"and the collection. Use with caution as this cannot be undone.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"chart_id": {"type": "integer", "description": "ID of the chart to delete"},
					%s
				},
				"required": ["chart_id"]
			}`, followup)),
		},
		{
			Name: "rearrange_dashboard",
			Description: "For dashboard operations only. Modifies the layout and positioning of all dashboard " +
				"elements to create a cohesive visual hierarchy.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"layout": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"id": {"type": "integer"},
								%s
							},
							"required": ["id", "size_x", "size_y", "row", "col"]
						}
					},
					%s
				},
				"required": ["layout"]
			}`, position, followup)),
		},
		{
			Name: "add_markdown",
			Description: "For dashboard operations only. Adds formatted text content to the dashboard for " +
				"headers, descriptions, or analysis notes, rendered as a text card at the given position.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "Markdown text content"},
					%s,
					%s
				},
				"required": ["text", "size_x", "size_y", "row", "col"]
			}`, position, followup)),
		},
		{
			Name: "get_dashboard_cards",
			Description: "For dashboard operations only. Retrieves a list of all cards (charts, text, etc.) " +
				"on the dashboard. Use this before making modifications.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {%s},
				"required": []
			}`, followup)),
		},
	}
}

// DomainTools returns the fixed catalogue. The caller receives a copy of
// the slice; the definitions themselves are shared and must not be
// mutated.
func DomainTools() []ToolDefinition {
	out := make([]ToolDefinition, len(domainTools))
	copy(out, domainTools)
	return out
}

// IsDomainTool reports whether a name belongs to the fixed catalogue.
// Catalogue membership always wins over discovered server tools when
// dispatching a model-proposed call.
func IsDomainTool(name string) bool {
	for _, t := range domainTools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// ChartToolNames lists the tools usable in single-chart mode.
func ChartToolNames() []string {
	return []string{"preview_chart"}
}

// DashboardToolNames lists the tools usable in dashboard mode.
func DashboardToolNames() []string {
	return []string{
		"list_charts", "load_chart", "create_chart", "update_chart",
		"delete_chart", "rearrange_dashboard", "add_markdown", "get_dashboard_cards",
	}
}

// MergeTools combines the fixed catalogue with externally discovered
// server tools. A name collision across the union is a configuration
// error: the two sets must be disjoint.
func MergeTools(external []ToolDefinition) ([]ToolDefinition, error) {
	merged := DomainTools()
	seen := make(map[string]bool, len(merged)+len(external))
	for _, t := range merged {
		seen[t.Name] = true
	}

	for _, t := range external {
		if seen[t.Name] {
			return nil, fmt.Errorf("tool name collision: %q is defined by both the domain catalogue and the tool server", t.Name)
		}
		seen[t.Name] = true
		merged = append(merged, t)
	}

	return merged, nil
}
