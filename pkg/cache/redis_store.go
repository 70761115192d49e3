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

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

// RedisConfig configures the optional Redis-backed cache store, for
// deployments that want the embedding cache shared across replicas
// rather than pinned to one node's filesystem.
type RedisConfig struct {
	Address   string `json:"address,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// DefaultRedisConfig returns a RedisConfig pointed at a local instance.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:   "redis://127.0.0.1:6379",
		Namespace: "default",
	}
}

// RedisStore implements Store against a single Redis string key, the
// key itself derived from the configured namespace so unrelated
// deployments sharing one Redis instance cannot collide.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and returns a RedisStore. It fails
// fast (pinging once at construction) rather than surfacing connection
// errors on the first Save/Load.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	address := cfg.Address
	if !strings.HasPrefix(address, "redis://") &&
		!strings.HasPrefix(address, "rediss://") &&
		!strings.HasPrefix(address, "unix://") {
		address = "redis://" + address
	}

	opt, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis address: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		key:    redisCacheKey(cfg.Namespace),
	}, nil
}

func redisCacheKey(namespace string) string {
	sum := xxhash.Sum64String(namespace)
	return "encapure:embeddings-cache:" + strconv.FormatUint(sum, 16)
}

// Save writes the encoded header+matrix as a single Redis value.
func (r *RedisStore) Save(ctx context.Context, header Header, matrix []float32) error {
	logger := klog.FromContext(ctx).WithName("cache.RedisStore.Save")

	if err := r.client.Set(ctx, r.key, encode(header, matrix), 0).Err(); err != nil {
		return fmt.Errorf("failed to write embeddings cache to redis: %w", err)
	}

	logger.Info("embeddings cache saved to redis", "key", r.key, "n", header.N, "d", header.D)
	return nil
}

// Load fetches and decodes the cache value. A missing key is a miss,
// not an error.
func (r *RedisStore) Load(ctx context.Context) (Header, []float32, bool, error) {
	logger := klog.FromContext(ctx).WithName("cache.RedisStore.Load")

	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Info("no embeddings cache in redis", "key", r.key)
			return Header{}, nil, false, nil
		}
		return Header{}, nil, false, fmt.Errorf("failed to read embeddings cache from redis: %w", err)
	}

	header, matrix, ok, err := decode(data)
	if err != nil {
		return Header{}, nil, false, err
	}
	if !ok {
		logger.Info("embeddings cache in redis is invalid, ignoring", "key", r.key)
		return Header{}, nil, false, nil
	}

	logger.Info("embeddings cache loaded from redis", "key", r.key, "n", header.N, "d", header.D)
	return header, matrix, true, nil
}
