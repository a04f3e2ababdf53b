// Package store persists refresh snapshots behind a small key/value
// interface with file, memory, valkey and postgres backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"elvcal/internal/config"
	appLog "elvcal/internal/log"
)

// Keys written by the refresher.
const (
	KeySnapshot    = "snapshot"
	KeyRawEvents   = "raw/events"
	KeyRawServices = "raw/services"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is a byte-oriented key/value store. Each Set replaces the previous
// value for the key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendValkey:
		return NewValkey(ctx, cfg.Addr, cfg.Prefix)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.DSN, cfg.Prefix+"_kv")
	case config.BackendFile, "":
		return NewFile(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// GetJSON loads key into v. It reports false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		appLog.Error("store write failed", err, "key", key)
		return err
	}
	appLog.Debug("store write", "key", key, "bytes", len(data))
	return nil
}
