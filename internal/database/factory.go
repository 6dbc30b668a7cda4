package database

import (
	"fmt"
	"os"
	"path/filepath"

	"skein-go/internal/config"
	"skein-go/internal/skein"
)

// NewSQLiteStoreFromConfig opens the SQLite durable tier described by cfg.
func NewSQLiteStoreFromConfig(cfg config.DurableConfig, clock skein.Clock) (*SQLiteStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir required for sqlite durable store")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return NewSQLiteStore(filepath.Join(cfg.DataDir, "cache.db"), clock)
}
