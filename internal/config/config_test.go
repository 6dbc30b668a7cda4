package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/skein")
	original.Durable = DurableConfig{
		Type:        "s3",
		S3Bucket:    "skein-cache",
		S3Prefix:    "alice/",
		S3Region:    "eu-west-1",
		S3Endpoint:  "http://localhost:9000",
		S3PathStyle: true,
	}
	original.Fetch.EarlyDelay = D(750 * time.Millisecond)
	original.Health.TempPatterns = []string{"*.tmp"}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Durable != original.Durable {
		t.Errorf("Durable = %+v, want %+v", got.Durable, original.Durable)
	}
	if got.Fetch.EarlyDelay.Duration != 750*time.Millisecond {
		t.Errorf("Fetch.EarlyDelay = %v, want %v", got.Fetch.EarlyDelay, 750*time.Millisecond)
	}
	if got.Cache.PostTTL.Duration != 7*24*time.Hour {
		t.Errorf("Cache.PostTTL = %v, want %v", got.Cache.PostTTL, 7*24*time.Hour)
	}
	if got.Gateway.Requests != original.Gateway.Requests {
		t.Errorf("Gateway.Requests = %d, want %d", got.Gateway.Requests, original.Gateway.Requests)
	}
	if len(got.Health.TempPatterns) != 1 || got.Health.TempPatterns[0] != "*.tmp" {
		t.Errorf("Health.TempPatterns = %v, want [*.tmp]", got.Health.TempPatterns)
	}
	if got.Watch.SyncSchedule != original.Watch.SyncSchedule {
		t.Errorf("Watch.SyncSchedule = %q, want %q", got.Watch.SyncSchedule, original.Watch.SyncSchedule)
	}
}

func TestManager_Read_Durations(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "milliseconds", input: `early_delay = "500ms"`, want: 500 * time.Millisecond},
		{name: "hours", input: `early_delay = "168h"`, want: 168 * time.Hour},
		{name: "invalid", input: `early_delay = "soon"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{}
			cfg, err := m.Read(strings.NewReader("[fetch]\n" + tt.input + "\n"))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Read() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if cfg.Fetch.EarlyDelay.Duration != tt.want {
				t.Errorf("EarlyDelay = %v, want %v", cfg.Fetch.EarlyDelay, tt.want)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/skein")

	if cfg.BaseDir != "/data/skein" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/skein")
	}
	if cfg.LogDir != "/data/skein/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/skein/log")
	}
	if cfg.Durable.Type != "sqlite" {
		t.Errorf("Durable.Type = %q, want %q", cfg.Durable.Type, "sqlite")
	}
	if cfg.Durable.DataDir != "/data/skein/db" {
		t.Errorf("Durable.DataDir = %q, want %q", cfg.Durable.DataDir, "/data/skein/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/skein/keys/skein.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/skein/keys/skein.pub")
	}
	if cfg.Fast.MaxSize != 1<<20 {
		t.Errorf("Fast.MaxSize = %d, want %d", cfg.Fast.MaxSize, 1<<20)
	}
	if cfg.Cache.NotificationTTL.Duration != 24*time.Hour {
		t.Errorf("Cache.NotificationTTL = %v, want %v", cfg.Cache.NotificationTTL, 24*time.Hour)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "skein.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %v, want 0600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "skein.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "skein.toml")
		cfg := NewConfig(dir)
		cfg.Durable = DurableConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Durable.Type != "memory" {
			t.Errorf("Durable.Type = %q, want %q", got.Durable.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/skein.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
