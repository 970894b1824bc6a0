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
	"errors"
	"fmt"

	"querycanvas/platform/conversation"
	"querycanvas/platform/llm"
	"querycanvas/platform/schema"
	"querycanvas/platform/toolserver"
)

// QueryError indicates SQL execution failed after the single permitted
// refinement attempt, or another stage of the orchestration failed.
type QueryError struct {
	Message string
	Cause   error
}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("query error: %s: %v", e.Message, e.Cause)
	}
	return "query error: " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Failure is the single externally visible error shape. Callers never
// see stack traces or provider payloads, only a kind and a message.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return f.Kind + ": " + f.Message
}

// Normalize maps internal errors onto the external taxonomy at the
// orchestrator boundary.
func Normalize(err error) *Failure {
	var (
		transportErr *toolserver.TransportError
		schemaErr    *schema.Error
		samplingErr  *llm.SamplingError
		historyErr   *conversation.HistoryError
		queryErr     *QueryError
	)

	switch {
	case errors.As(err, &transportErr):
		return &Failure{Kind: "tool_transport_error", Message: transportErr.Error()}
	case errors.Is(err, toolserver.ErrNotInitialized):
		return &Failure{Kind: "tool_transport_error", Message: err.Error()}
	case errors.As(err, &schemaErr):
		return &Failure{Kind: "schema_error", Message: schemaErr.Error()}
	case errors.As(err, &historyErr):
		return &Failure{Kind: "history_error", Message: historyErr.Error()}
	case errors.As(err, &samplingErr):
		return &Failure{Kind: "sampling_error", Message: samplingErr.Error()}
	case errors.As(err, &queryErr):
		return &Failure{Kind: "query_error", Message: queryErr.Error()}
	default:
		return &Failure{Kind: "internal_error", Message: err.Error()}
	}
}
