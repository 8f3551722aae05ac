// Package kv provides the persistent key/value store the session keeps its
// preferences in. Values are opaque strings; callers own their encoding.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/walletd/walletd/internal/config"
)

// ErrNotFound is returned by Get for keys that were never set or were deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed persistent store. Implementations are safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key. Used when the wallet is deleted.
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the backend selected in cfg.
func Open(cfg config.StorageConfig) (Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(dir), nil
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "walletd.db"))
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.Namespace)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// GetOr returns the stored value, or def when the key is missing.
func GetOr(ctx context.Context, s Store, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}
