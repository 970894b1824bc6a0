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

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"querycanvas/platform/query"
)

const defaultServer = "mysql"

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure renders a normalized orchestration failure. History and
// query-type problems are the caller's fault; everything else is a
// gateway-style failure of a collaborator.
func writeFailure(w http.ResponseWriter, err error) {
	var failure *query.Failure
	if !errors.As(err, &failure) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadGateway
	if failure.Kind == "history_error" || failure.Kind == "internal_error" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, failure)
}

func serverName(r *http.Request) string {
	if name := r.URL.Query().Get("server_name"); name != "" {
		return name
	}
	return defaultServer
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	server := serverName(r)
	svc, err := s.registry.Get(server)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp, err := svc.ProcessQuery(r.Context(), req)
	if err != nil {
		s.log.ErrorWithErr(clientID(r), "", "query failed", err, map[string]interface{}{
			"server": server,
		})
		writeFailure(w, err)
		return
	}

	s.log.Info(clientID(r), "", "query processed", map[string]interface{}{
		"server": server,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	server := serverName(r)
	svc, err := s.registry.Get(server)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	caps, err := svc.GetCapabilities(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) serversHandler(w http.ResponseWriter, r *http.Request) {
	list, err := query.ListServers(s.registry.Manager())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": list})
}

func (s *Server) createKeyHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	key, err := s.keys.Create(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key, "name": name})
}

func (s *Server) listKeysHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) deleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := s.keys.Delete(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API key deleted"})
}

func (s *Server) disableKeyHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := s.keys.Disable(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API key disabled"})
}
