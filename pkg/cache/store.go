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
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

// Store is the persistence backend for the embedding cache. FileStore
// (the on-disk artifact §3/§6 specify) is the only backend the spec
// requires; RedisStore is an additive alternative for deployments
// that want the cache shared outside the local filesystem. Only one
// backend is active per process — NewStore picks it the same way the
// teacher's kvblock.NewIndex picks among its backends.
type Store interface {
	// Save writes header+matrix verbatim, per §4.3. Implementations
	// must create any missing parent location and flush before
	// returning.
	Save(ctx context.Context, header Header, matrix []float32) error
	// Load returns (header, matrix, true, nil) on a valid hit,
	// (_, _, false, nil) on a miss (absent, bad magic, bad version),
	// a Validation error when the stored bytes are corrupt, and an
	// error when the backend cannot be read.
	Load(ctx context.Context) (Header, []float32, bool, error)
}

// Config selects and configures exactly one Store backend.
type Config struct {
	FileConfig  *FileConfig  `json:"fileConfig,omitempty"`
	RedisConfig *RedisConfig `json:"redisConfig,omitempty"`
}

// DefaultConfig returns a FileStore-backed configuration at the given path.
func DefaultConfig(path string) *Config {
	return &Config{FileConfig: &FileConfig{Path: path}}
}

// NewStore constructs the configured backend.
func NewStore(cfg *Config) (Store, error) {
	switch {
	case cfg.RedisConfig != nil:
		return NewRedisStore(cfg.RedisConfig)
	case cfg.FileConfig != nil:
		return NewFileStore(cfg.FileConfig), nil
	default:
		return nil, fmt.Errorf("no valid cache store configuration provided")
	}
}

// FileConfig configures the required on-disk backend.
type FileConfig struct {
	Path string `json:"path"`
}

// FileStore implements Store against a single file on disk, the
// binary layout of §3/§6 written and read verbatim.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore rooted at path.
func NewFileStore(cfg *FileConfig) *FileStore {
	return &FileStore{path: cfg.Path}
}

// Save creates the parent directory if needed, writes the encoded
// bytes, and flushes before returning.
func (f *FileStore) Save(_ context.Context, header Header, matrix []float32) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.Validation, "creating cache directory", err)
	}

	file, err := os.Create(f.path) //nolint:gosec // path is operator-provided configuration
	if err != nil {
		return apperrors.Wrap(apperrors.Validation, "creating cache file", err)
	}
	defer file.Close()

	if _, err := file.Write(encode(header, matrix)); err != nil {
		return apperrors.Wrap(apperrors.Validation, "writing cache file", err)
	}
	if err := file.Sync(); err != nil {
		return apperrors.Wrap(apperrors.Validation, "flushing cache file", err)
	}

	klog.Background().Info("embeddings cache saved", "path", f.path, "n", header.N, "d", header.D)
	return nil
}

// Load reads the file and decodes it. A missing file is a miss, not
// an error.
func (f *FileStore) Load(_ context.Context) (Header, []float32, bool, error) {
	data, err := os.ReadFile(f.path) //nolint:gosec // path is operator-provided configuration
	if err != nil {
		if os.IsNotExist(err) {
			klog.Background().Info("cache file does not exist", "path", f.path)
			return Header{}, nil, false, nil
		}
		return Header{}, nil, false, apperrors.Wrap(apperrors.Validation, "reading cache file", err)
	}

	header, matrix, ok, err := decode(data)
	if err != nil {
		return Header{}, nil, false, err
	}
	if !ok {
		klog.Background().Info("cache file invalid (bad magic or version), ignoring", "path", f.path)
		return Header{}, nil, false, nil
	}

	klog.Background().Info("embeddings cache loaded", "path", f.path, "n", header.N, "d", header.D)
	return header, matrix, true, nil
}

// ComputeToolsHash computes the SHA-256 digest of
// concat_i(name_i || '|' || inferenceView_i || '\n'), the exact input
// shape §3/§9 require callers preserve for cross-implementation cache
// portability.
func ComputeToolsHash(names, inferenceViews []string) [32]byte {
	h := sha256.New()
	for i := range names {
		h.Write([]byte(names[i]))
		h.Write([]byte{'|'})
		h.Write([]byte(inferenceViews[i]))
		h.Write([]byte{'\n'})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// IsValidFor reports whether header matches the current tool set, per
// §4.3: equal count and equal tools hash.
func IsValidFor(header Header, names, inferenceViews []string) bool {
	if int(header.N) != len(names) {
		return false
	}
	return header.ToolsHash == ComputeToolsHash(names, inferenceViews)
}
