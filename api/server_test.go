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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/platform/keystore"
	"querycanvas/platform/llm"
	"querycanvas/platform/query"
	"querycanvas/platform/toolserver"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	handler http.Handler
	keys    *keystore.Store
	apiKey  string
}

func newTestEnv(t *testing.T, redisClient *redis.Client, rateLimit int) *testEnv {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "tool_servers.json")
	config := `{"toolServers": {"mysql": {"command": "dbtool", "env": {"DB_DSN": "secret-dsn"}}}}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	manager, err := toolserver.NewManager(configPath)
	require.NoError(t, err)

	keys, err := keystore.Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = keys.Close() })

	apiKey, err := keys.Create(context.Background(), "test-client")
	require.NoError(t, err)

	registry := query.NewRegistry(manager, func() (llm.Backend, error) {
		t.Fatal("no test exercises a live backend")
		return nil, nil
	})

	server := NewServer(Options{
		Registry:           registry,
		Keys:               keys,
		Redis:              redisClient,
		AdminKey:           testAdminKey,
		RateLimitPerMinute: rateLimit,
	})

	return &testEnv{handler: server.Handler(nil), keys: keys, apiKey: apiKey}
}

func (e *testEnv) do(method, path, apiKey string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doAdmin(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodGet, "/api/servers", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/servers", "not-a-real-key", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/api/servers", env.apiKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServersEndpoint_HidesEnvValues(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodGet, "/api/servers", env.apiKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "mysql")
	assert.Contains(t, body, "DB_DSN")
	assert.NotContains(t, body, "secret-dsn")
}

func TestQueryEndpoint_Validation(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodPost, "/api/query", env.apiKey, `{"database_name": "sales"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "question is required")

	rec = env.do(http.MethodPost, "/api/query", env.apiKey, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpoint_UnknownServer(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.do(http.MethodPost, "/api/query?server_name=oracle", env.apiKey,
		`{"question": "how many users?"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, client, 2)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/api/servers", env.apiKey, "")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := env.do(http.MethodGet, "/api/servers", env.apiKey, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimit_FailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, client, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodGet, "/api/servers", env.apiKey, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/api-keys", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A client API key does not grant admin access either.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/api-keys", nil)
	req.Header.Set("X-Admin-Key", env.apiKey)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminKeyLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rec := env.doAdmin(http.MethodPost, "/api/admin/api-keys/reporting-service")
	require.Equal(t, http.StatusOK, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "reporting-service", created["name"])
	newKey := created["api_key"]
	require.NotEmpty(t, newKey)

	// The fresh key authenticates.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/servers", newKey, "").Code)

	rec = env.doAdmin(http.MethodGet, "/api/admin/api-keys")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []keystore.Key
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	// Disabling revokes access without deleting.
	rec = env.doAdmin(http.MethodPost, "/api/admin/api-keys/"+newKey+"/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/servers", newKey, "").Code)

	rec = env.doAdmin(http.MethodDelete, "/api/admin/api-keys/"+newKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doAdmin(http.MethodDelete, "/api/admin/api-keys/"+newKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
