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

package keystore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndVerify(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key, err := store.Create(ctx, "dashboard-frontend")
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	name, ok, err := store.Verify(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dashboard-frontend", name)

	// Verification stamps last_used.
	keys, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsed)
	assert.True(t, keys[0].IsActive)
}

func TestVerify_UnknownKey(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Verify(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key, err := store.Create(ctx, "client")
	require.NoError(t, err)

	found, err := store.Disable(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	_, ok, err := store.Verify(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "disabled key must not verify")

	// Disabled keys stay listed.
	keys, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)

	found, err = store.Disable(ctx, "no-such-key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key, err := store.Create(ctx, "client")
	require.NoError(t, err)

	found, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	found, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKeysAreUniquePerClient(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "client")
	require.NoError(t, err)
	second, err := store.Create(ctx, "client")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
