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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// maxLineSize bounds a single JSON-RPC frame. Resource reads can embed
// sample rows, so frames run well past bufio's 64KB default.
const maxLineSize = 16 * 1024 * 1024

// Transport is a request/response channel to one tool-server process.
// Implementations must fail all in-flight calls when the channel breaks.
type Transport interface {
	// Call performs one JSON-RPC round trip. result may be nil when the
	// caller does not need the response payload.
	Call(ctx context.Context, method string, params, result interface{}) error

	// Close severs the channel and terminates the server process. Safe to
	// call multiple times; outstanding calls fail fast.
	Close() error
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// StdioTransport speaks newline-delimited JSON-RPC 2.0 over the stdin and
// stdout of a spawned tool-server process.
type StdioTransport struct {
	server string
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse

	nextID atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// SpawnStdioTransport launches the configured command and wires a JSON-RPC
// channel to it. The process inherits only the environment from cfg.Env.
func SpawnStdioTransport(server string, cfg ServerConfig) (*StdioTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = cfg.EnvSlice()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, NewTransportError(server, "open stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewTransportError(server, "open stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, NewTransportError(server, fmt.Sprintf("start %q", cfg.Command), err)
	}

	t := &StdioTransport{
		server:  server,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
	}

	go t.readLoop(stdout)

	return t, nil
}

// Call implements Transport.
func (t *StdioTransport) Call(ctx context.Context, method string, params, result interface{}) error {
	select {
	case <-t.done:
		return NewTransportError(t.server, method, fmt.Errorf("transport closed"))
	default:
	}

	id := t.nextID.Add(1)
	respCh := make(chan *rpcResponse, 1)

	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	_, err = t.stdin.Write(data)
	t.writeMu.Unlock()
	if err != nil {
		return NewTransportError(t.server, method, err)
	}

	select {
	case <-ctx.Done():
		return NewTransportError(t.server, method, ctx.Err())
	case <-t.done:
		return NewTransportError(t.server, method, fmt.Errorf("server process exited"))
	case resp := <-respCh:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

// Close implements Transport. It terminates the process and releases all
// in-flight calls.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.stdin.Close()
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		_ = t.cmd.Wait()
	})
	return nil
}

// readLoop dispatches responses to waiting callers until stdout closes.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue // not a response frame; skip
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		t.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	// Stdout closed: the process is gone. Unblock every waiter.
	t.Close()
}
