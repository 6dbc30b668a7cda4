package durable

import (
	"context"
	"fmt"

	"skein-go/internal/config"
	"skein-go/internal/database"
	"skein-go/internal/skein"
)

// NewDurableStoreFromConfig creates a DurableStore based on the configuration type.
func NewDurableStoreFromConfig(ctx context.Context, cfg config.DurableConfig, clock skein.Clock) (skein.DurableStore, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := database.NewSQLiteStoreFromConfig(cfg, clock)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	case "memory":
		return NewMemoryStore("memory"), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem durable store")
		}
		return NewFileSystemStore("filesystem", cfg.FSRoot)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr required for redis durable store")
		}
		client, err := DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return NewRedisStore("redis", client, cfg.Prefix), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3_bucket required for s3 durable store")
		}
		client, err := NewS3Client(ctx, S3Options{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		prefix := cfg.S3Prefix
		if prefix == "" {
			prefix = cfg.Prefix
		}
		return NewS3Store("s3", client, cfg.S3Bucket, prefix), nil
	default:
		return nil, fmt.Errorf("unknown durable store type: %q", cfg.Type)
	}
}
