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

// Package api exposes the HTTP surface of the engine: query processing,
// capability discovery, server listing, and API-key administration.
package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"querycanvas/platform/keystore"
	"querycanvas/platform/query"
	"querycanvas/platform/shared/logger"
)

// Server wires the HTTP routes to the query registry and key store.
type Server struct {
	registry  *query.Registry
	keys      *keystore.Store
	redis     *redis.Client
	adminKey  string
	rateLimit int
	log       *logger.Logger
}

// Options configures a Server.
type Options struct {
	Registry           *query.Registry
	Keys               *keystore.Store
	Redis              *redis.Client // nil disables rate limiting
	AdminKey           string
	RateLimitPerMinute int
	CORSOrigins        []string
}

// NewServer builds the server and its middleware stack.
func NewServer(opts Options) *Server {
	return &Server{
		registry:  opts.Registry,
		keys:      opts.Keys,
		redis:     opts.Redis,
		adminKey:  opts.AdminKey,
		rateLimit: opts.RateLimitPerMinute,
		log:       logger.New("api"),
	}
}

// Handler builds the routed, CORS-wrapped HTTP handler.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := mux.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/query", s.requireAPIKey(s.queryHandler)).Methods("POST")
	r.HandleFunc("/api/capabilities", s.requireAPIKey(s.capabilitiesHandler)).Methods("GET")
	r.HandleFunc("/api/servers", s.requireAPIKey(s.serversHandler)).Methods("GET")

	r.HandleFunc("/api/admin/api-keys/{name}", s.requireAdminKey(s.createKeyHandler)).Methods("POST")
	r.HandleFunc("/api/admin/api-keys", s.requireAdminKey(s.listKeysHandler)).Methods("GET")
	r.HandleFunc("/api/admin/api-keys/{key}", s.requireAdminKey(s.deleteKeyHandler)).Methods("DELETE")
	r.HandleFunc("/api/admin/api-keys/{key}/disable", s.requireAdminKey(s.disableKeyHandler)).Methods("POST")

	return c.Handler(r)
}
