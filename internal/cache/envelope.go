package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skein-go/internal/skein"
)

// SchemaVersion tags every persisted entry. Bumping it orphans old entries:
// their keys change and any stale blob read back is discarded.
const SchemaVersion = "v1"

const (
	DefaultPostTTL         = 7 * 24 * time.Hour
	DefaultNotificationTTL = 24 * time.Hour
	DefaultChunkSize       = 1 << 20
)

var (
	PostsKey     = skein.KeyNamespace + "posts:" + SchemaVersion
	MigrationKey = skein.KeyNamespace + "migration:posts:" + SchemaVersion
)

// NotificationsKey is the storage key of a notification partition.
func NotificationsKey(p skein.Partition) string {
	return skein.KeyNamespace + "notifications:" + string(p) + ":" + SchemaVersion
}

// envelope is the persisted form of a cache entry. A chunked entry stores
// only the header here (Chunks > 0, no Payload) and the payload bytes split
// across skein.ChunkKey(key, Offset+i) for i in [0, Chunks).
type envelope struct {
	Version   string          `json:"version"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Chunks    int             `json:"chunks,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// chunkKeys lists the chunk keys the header at key points to.
func (e envelope) chunkKeys(key string) []string {
	keys := make([]string, 0, e.Chunks)
	for i := 0; i < e.Chunks; i++ {
		keys = append(keys, skein.ChunkKey(key, e.Offset+i))
	}
	return keys
}

// marker is the body of the one-shot migration marker. It carries no
// timestamp, so storage cleanup keeps it.
type marker struct {
	Version    string `json:"version"`
	MigratedAt string `json:"migratedAt"`
}

// writeEntry persists payload under key. New chunks go to indices the
// current header does not reference, and the header is written last, so a
// failed write leaves the previous entry readable. Chunks of the previous
// entry are removed once the new header is in place.
func writeEntry(ctx context.Context, tier blobTier, key string, payload []byte, now time.Time, chunkSize int) error {
	var previous envelope
	if old, ok, err := tier.get(ctx, key); err == nil && ok {
		if json.Unmarshal(old, &previous) != nil {
			previous = envelope{}
		}
	}

	env := envelope{Version: SchemaVersion, Timestamp: skein.UnixMilli(now)}
	if chunkSize > 0 && len(payload) > chunkSize {
		count := (len(payload) + chunkSize - 1) / chunkSize
		if previous.Chunks > 0 && previous.Offset < count {
			env.Offset = previous.Offset + previous.Chunks
		}
		for start := 0; start < len(payload); start += chunkSize {
			end := min(start+chunkSize, len(payload))
			if err := tier.set(ctx, skein.ChunkKey(key, env.Offset+env.Chunks), payload[start:end]); err != nil {
				discardChunks(ctx, tier, key, env)
				return fmt.Errorf("writing chunk %d of %s: %w", env.Chunks, key, err)
			}
			env.Chunks++
		}
	} else {
		env.Payload = payload
	}

	header, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := tier.set(ctx, key, header); err != nil {
		discardChunks(ctx, tier, key, env)
		return fmt.Errorf("writing %s: %w", key, err)
	}

	current := make(map[string]bool, env.Chunks)
	for _, chunk := range env.chunkKeys(key) {
		current[chunk] = true
	}
	for _, chunk := range previous.chunkKeys(key) {
		if current[chunk] {
			continue
		}
		if err := tier.delete(ctx, chunk); err != nil {
			return fmt.Errorf("removing stale chunk %s: %w", chunk, err)
		}
	}
	return nil
}

// discardChunks removes the chunks of a write that never got its header.
func discardChunks(ctx context.Context, tier blobTier, key string, env envelope) {
	for _, chunk := range env.chunkKeys(key) {
		_ = tier.delete(ctx, chunk)
	}
}

// readEntry loads the payload stored under key.
//
// A missing key is (nil, zero, nil). An entry with another schema version,
// older than ttl, undecodable or missing a chunk is purged and reported as
// ErrSchemaVersionMismatch, ErrEntryExpired or ErrCorruptEntry. Any other
// error is a tier failure and leaves the entry alone, except a tier that
// reports ErrCorruptEntry itself (a sealed blob it cannot open), which is
// purged too.
func readEntry(ctx context.Context, tier blobTier, key string, ttl time.Duration, now time.Time) ([]byte, time.Time, error) {
	raw, ok, err := tier.get(ctx, key)
	if err != nil {
		if errors.Is(err, skein.ErrCorruptEntry) {
			purgeEntry(ctx, tier, key, envelope{})
		}
		return nil, time.Time{}, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return nil, time.Time{}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		purgeEntry(ctx, tier, key, envelope{})
		return nil, time.Time{}, fmt.Errorf("decoding %s: %w: %v", key, skein.ErrCorruptEntry, err)
	}
	if env.Version != SchemaVersion {
		purgeEntry(ctx, tier, key, env)
		return nil, time.Time{}, fmt.Errorf("%s has version %q: %w", key, env.Version, skein.ErrSchemaVersionMismatch)
	}
	written := skein.FromUnixMilli(env.Timestamp)
	if ttl > 0 && now.Sub(written) > ttl {
		purgeEntry(ctx, tier, key, env)
		return nil, time.Time{}, fmt.Errorf("%s written %s: %w", key, written.Format(time.RFC3339), skein.ErrEntryExpired)
	}

	if env.Chunks == 0 {
		if len(env.Payload) == 0 {
			purgeEntry(ctx, tier, key, envelope{})
			return nil, time.Time{}, fmt.Errorf("%s has no payload: %w", key, skein.ErrCorruptEntry)
		}
		return env.Payload, written, nil
	}

	var payload []byte
	for i, chunkKey := range env.chunkKeys(key) {
		chunk, ok, err := tier.get(ctx, chunkKey)
		if err != nil {
			if errors.Is(err, skein.ErrCorruptEntry) {
				purgeEntry(ctx, tier, key, env)
			}
			return nil, time.Time{}, fmt.Errorf("reading chunk %d of %s: %w", i, key, err)
		}
		if !ok {
			purgeEntry(ctx, tier, key, env)
			return nil, time.Time{}, fmt.Errorf("%s is missing chunk %d: %w", key, i, skein.ErrCorruptEntry)
		}
		payload = append(payload, chunk...)
	}
	return payload, written, nil
}

// purgeEntry removes key and the chunks env points to. Failures are
// ignored: the entry is already unusable and cleanup will catch leftovers.
func purgeEntry(ctx context.Context, tier blobTier, key string, env envelope) {
	_ = tier.delete(ctx, key)
	for _, chunk := range env.chunkKeys(key) {
		_ = tier.delete(ctx, chunk)
	}
}
