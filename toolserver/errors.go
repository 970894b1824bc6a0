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

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when a session operation is attempted
// before Initialize has succeeded.
var ErrNotInitialized = errors.New("tool session not initialized")

// TransportError indicates the tool-server process or its connection is
// broken. It is fatal to the current request; callers must not attempt an
// automatic reconnect.
type TransportError struct {
	Server    string
	Operation string
	Cause     error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool server %q: %s: %v", e.Server, e.Operation, e.Cause)
	}
	return fmt.Sprintf("tool server %q: %s", e.Server, e.Operation)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a TransportError for the given server and operation.
func NewTransportError(server, operation string, cause error) *TransportError {
	return &TransportError{Server: server, Operation: operation, Cause: cause}
}

// RPCError is a structured error returned by the tool server itself
// (the process is healthy, the call failed).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("tool server error %d: %s", e.Code, e.Message)
}
