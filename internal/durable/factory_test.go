package durable

import (
	"context"
	"path/filepath"
	"testing"

	"skein-go/internal/config"
	"skein-go/internal/skein"
)

func TestNewDurableStoreFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		cfg      config.DurableConfig
		wantName string
		wantErr  bool
	}{
		{name: "memory", cfg: config.DurableConfig{Type: "memory"}, wantName: "memory"},
		{
			name:     "filesystem",
			cfg:      config.DurableConfig{Type: "filesystem", FSRoot: filepath.Join(dir, "fs")},
			wantName: "filesystem",
		},
		{
			name:     "sqlite",
			cfg:      config.DurableConfig{Type: "sqlite", DataDir: filepath.Join(dir, "db")},
			wantName: "sqlite",
		},
		{name: "filesystem without root", cfg: config.DurableConfig{Type: "filesystem"}, wantErr: true},
		{name: "redis without address", cfg: config.DurableConfig{Type: "redis"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.DurableConfig{Type: "s3"}, wantErr: true},
		{name: "unknown type", cfg: config.DurableConfig{Type: "floppy"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewDurableStoreFromConfig(context.Background(), tt.cfg, skein.RealClock{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewDurableStoreFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDurableStoreFromConfig() error = %v", err)
			}
			defer store.Close()
			if store.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", store.Name(), tt.wantName)
			}
		})
	}
}
