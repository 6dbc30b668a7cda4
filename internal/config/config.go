package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for skein.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn or error
	Remote     RemoteConfig     `toml:"remote"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Durable    DurableConfig    `toml:"durable"`
	Fast       FastConfig       `toml:"fast"`
	Cache      CacheConfig      `toml:"cache"`
	Encryption EncryptionConfig `toml:"encryption"`
	Fetch      FetchConfig      `toml:"fetch"`
	Health     HealthConfig     `toml:"health"`
	Watch      WatchConfig      `toml:"watch"`
}

// Duration is a time.Duration written as a string ("500ms", "168h") in TOML.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// RemoteConfig describes the notification service the client talks to.
type RemoteConfig struct {
	ServiceURL string `toml:"service_url"`
	// NotificationsURL overrides ServiceURL for notification listing, which
	// needs an authenticated endpoint when posts come from a public one.
	NotificationsURL string   `toml:"notifications_url,omitempty"`
	AccessToken      string   `toml:"access_token,omitempty"`
	Timeout          Duration `toml:"timeout"`
	PageSize         int      `toml:"page_size"`
}

// GatewayConfig is the shared remote quota: Requests calls per Window.
type GatewayConfig struct {
	Requests int      `toml:"requests"`
	Window   Duration `toml:"window"`
}

// DurableConfig represents configuration for the durable cache tier.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DurableConfig struct {
	Type string `toml:"type"` // "sqlite", "memory", "filesystem", "redis" or "s3"

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`
	// Static credentials; leave empty to use the default AWS credential chain.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Key prefix for shared backends (redis, s3).
	Prefix string `toml:"prefix,omitempty"`
}

// FastConfig configures the synchronous size-capped tier.
type FastConfig struct {
	MaxSize      int64  `toml:"max_size"` // bytes; defaults to 1MB
	SnapshotPath string `toml:"snapshot_path,omitempty"`
}

// CacheConfig holds entry lifetimes and the chunking threshold.
type CacheConfig struct {
	PostTTL         Duration `toml:"post_ttl"`
	NotificationTTL Duration `toml:"notification_ttl"`
	ChunkSize       int      `toml:"chunk_size"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt the durable tier.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default) or "age"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FetchConfig shapes progressive post fetching.
type FetchConfig struct {
	InitialSlice int      `toml:"initial_slice"`
	EarlyRounds  int      `toml:"early_rounds"`
	EarlyBatch   int      `toml:"early_batch"`
	EarlyDelay   Duration `toml:"early_delay"`
	LateBatch    int      `toml:"late_batch"`
	LateDelay    Duration `toml:"late_delay"`
	MaxAttempts  int      `toml:"max_attempts"`
}

// HealthConfig configures storage health reporting and cleanup.
type HealthConfig struct {
	SoftCap      int64    `toml:"soft_cap"`
	TempPatterns []string `toml:"temp_patterns"`
}

// WatchConfig configures the scheduled jobs run by `skein watch`.
// Schedules use cron syntax; an empty schedule disables the job.
type WatchConfig struct {
	Timezone        string `toml:"timezone"`
	SyncSchedule    string `toml:"sync_schedule"`
	CleanupSchedule string `toml:"cleanup_schedule"`
	CleanupKeepDays int    `toml:"cleanup_keep_days"`
	Pages           int    `toml:"pages"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Remote: RemoteConfig{
			ServiceURL: "https://public.api.bsky.app",
			Timeout:    D(30 * time.Second),
			PageSize:   50,
		},
		Gateway: GatewayConfig{
			Requests: 30,
			Window:   D(time.Minute),
		},
		Durable: DurableConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Fast: FastConfig{
			MaxSize:      1 << 20,
			SnapshotPath: filepath.Join(baseDir, "fast.json"),
		},
		Cache: CacheConfig{
			PostTTL:         D(7 * 24 * time.Hour),
			NotificationTTL: D(24 * time.Hour),
			ChunkSize:       1 << 20,
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "skein.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "skein.key"),
		},
		Fetch: FetchConfig{
			InitialSlice: 175,
			EarlyRounds:  2,
			EarlyBatch:   100,
			EarlyDelay:   D(500 * time.Millisecond),
			LateBatch:    50,
			LateDelay:    D(2 * time.Second),
			MaxAttempts:  3,
		},
		Health: HealthConfig{
			SoftCap:      100 << 20,
			TempPatterns: []string{"*:tmp:*", "*.tmp", "tmp:*"},
		},
		Watch: WatchConfig{
			Timezone:        "Local",
			SyncSchedule:    "*/15 * * * *",
			CleanupSchedule: "0 4 * * *",
			CleanupKeepDays: 7,
			Pages:           3,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path. The file may hold
// an access token, so it is created private.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
