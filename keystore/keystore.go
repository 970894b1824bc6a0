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

// Package keystore persists client API keys in a local sqlite database.
package keystore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Key is one issued API key.
type Key struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Store wraps the sqlite-backed api_keys table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the key database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS api_keys (
			key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_used TIMESTAMP,
			is_active BOOLEAN DEFAULT TRUE
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize key database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// newToken produces a 32-byte url-safe random token.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a new API key for the named client.
func (s *Store) Create(ctx context.Context, name string) (string, error) {
	key, err := newToken()
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO api_keys (key, name) VALUES (?, ?)", key, name)
	if err != nil {
		return "", fmt.Errorf("failed to store api key: %w", err)
	}
	return key, nil
}

// Verify checks an API key and stamps last_used. It returns the client
// name, or ok=false for unknown or disabled keys.
func (s *Store) Verify(ctx context.Context, key string) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET last_used = ?
		WHERE key = ? AND is_active = TRUE
		RETURNING name
	`, time.Now().UTC(), key).Scan(&name)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to verify api key: %w", err)
	}
	return name, true, nil
}

// List returns all keys, newest first.
func (s *Store) List(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, name, created_at, last_used, is_active
		FROM api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var (
			k        Key
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&k.Key, &k.Name, &k.CreatedAt, &lastUsed, &k.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			k.LastUsed = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes a key permanently. Returns false when the key did not
// exist.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Disable deactivates a key without deleting it.
func (s *Store) Disable(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET is_active = FALSE WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("failed to disable api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
