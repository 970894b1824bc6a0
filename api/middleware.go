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
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// clientID returns the authenticated client name from the request
// context, or "" for unauthenticated requests.
func clientID(r *http.Request) string {
	id, _ := r.Context().Value(clientIDKey).(string)
	return id
}

// requireAPIKey authenticates X-API-Key against the key store, stamps
// the client name into the context, and applies the per-client rate
// limit.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		name, ok, err := s.keys.Verify(r.Context(), key)
		if err != nil {
			s.log.ErrorWithErr("", "", "api key verification failed", err, nil)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "invalid API key")
			return
		}

		if err := s.checkRateLimit(r.Context(), name); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, name)
		next(w, r.WithContext(ctx))
	}
}

// requireAdminKey gates administrative endpoints behind X-Admin-Key.
func (s *Server) requireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			writeError(w, http.StatusForbidden, "invalid admin key")
			return
		}
		next(w, r)
	}
}

// checkRateLimit enforces a sliding one-minute window per client in
// Redis. A Redis failure fails open: the request is allowed and the
// failure logged.
func (s *Server) checkRateLimit(ctx context.Context, client string) error {
	if s.redis == nil || s.rateLimit <= 0 {
		return nil
	}

	now := time.Now()
	key := "ratelimit:" + client

	pipe := s.redis.Pipeline()
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		s.log.Warn("", "", "rate limit check failed, failing open", map[string]interface{}{
			"client": client,
			"error":  err.Error(),
		})
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count > int64(s.rateLimit) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count, s.rateLimit)
	}
	return nil
}
