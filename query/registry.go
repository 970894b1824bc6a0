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
	"sync"

	"querycanvas/platform/toolserver"
)

// Registry holds one orchestrator per server name. It is owned by the
// application context and passed to request handlers explicitly; first
// creation is guarded against concurrent races.
type Registry struct {
	manager    *toolserver.Manager
	newBackend BackendFactory

	mu       sync.Mutex
	services map[string]*Service
}

// NewRegistry creates an empty registry over the given server manager.
func NewRegistry(manager *toolserver.Manager, factory BackendFactory) *Registry {
	return &Registry{
		manager:    manager,
		newBackend: factory,
		services:   make(map[string]*Service),
	}
}

// Get returns the orchestrator for a server, creating it on first use.
// The server must exist in the manager's configuration.
func (r *Registry) Get(server string) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, ok := r.services[server]; ok {
		return svc, nil
	}

	if _, err := r.manager.Get(server); err != nil {
		return nil, err
	}

	svc := NewService(server, r.manager, r.newBackend)
	r.services[server] = svc
	return svc, nil
}

// Manager exposes the underlying server configuration manager.
func (r *Registry) Manager() *toolserver.Manager {
	return r.manager
}
