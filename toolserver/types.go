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

package toolserver

import "encoding/json"

// Protocol method names understood by tool servers.
const (
	MethodInitialize    = "initialize"
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListPrompts   = "prompts/list"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodShutdown      = "shutdown"
)

// Tool describes an operation exported by a tool server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Content is a single content block inside a tool result.
// Only text blocks are produced by the servers this engine talks to.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the outcome of a tools/call round trip.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the first text content block, or "" if none is present.
func (r *ToolResult) Text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// PromptArgument describes a single prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a reusable prompt template exported by a tool server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Resource describes a readable resource exported by a tool server,
// typically one database table per resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the payload returned by resources/read.
type ResourceContents struct {
	Contents []Content `json:"contents"`
}

// Text returns the first text content block, or "" if none is present.
func (r *ResourceContents) Text() string {
	for _, c := range r.Contents {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// Request/response payloads for the individual methods.

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type listPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

type listResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type initializeResult struct {
	ServerName    string `json:"serverName"`
	ServerVersion string `json:"serverVersion"`
}
