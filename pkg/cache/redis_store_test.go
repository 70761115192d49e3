/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyavrs/encapure/pkg/cache"
)

func newTestRedisStore(t *testing.T) *cache.RedisStore {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	store, err := cache.NewRedisStore(&cache.RedisConfig{
		Address:   server.Addr(),
		Namespace: "test",
	})
	require.NoError(t, err)
	return store
}

func TestRedisStoreMissWhenEmpty(t *testing.T) {
	store := newTestRedisStore(t)

	_, _, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)

	header := cache.Header{
		Version:   1,
		ToolsHash: cache.ComputeToolsHash([]string{"a", "b"}, []string{"view-a", "view-b"}),
		N:         2,
		D:         3,
	}
	matrix := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}

	require.NoError(t, store.Save(context.Background(), header, matrix))

	gotHeader, gotMatrix, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, matrix, gotMatrix)
}
