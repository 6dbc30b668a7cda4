package cache

import (
	"context"
	"encoding/json"
	"errors"

	"skein-go/internal/skein"
)

// blobTier is the byte-level view the envelope codec reads and writes.
type blobTier interface {
	name() string
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte) error
	delete(ctx context.Context, key string) error
}

type durableTier struct {
	store skein.DurableStore
}

func (t durableTier) name() string { return t.store.Name() }

func (t durableTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.store.Get(ctx, key)
}

func (t durableTier) set(ctx context.Context, key string, value []byte) error {
	return t.store.Set(ctx, key, value)
}

func (t durableTier) delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

// fastTier wraps the synchronous tier. A write refused for quota evicts one
// blob and is retried once.
type fastTier struct {
	store  skein.SyncStore
	logger skein.Logger
}

func (t fastTier) name() string { return "fast" }

func (t fastTier) get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := t.store.Get(key)
	return v, ok, nil
}

func (t fastTier) set(_ context.Context, key string, value []byte) error {
	err := t.store.Set(key, value)
	if err == nil || !errors.Is(err, skein.ErrQuotaExceeded) {
		return err
	}

	victim, chunks := t.evictionCandidate(key)
	if victim == "" {
		return err
	}
	t.logger.Warn("fast tier full, evicting entry", "evicted", victim, "writing", key)
	t.store.Delete(victim)
	for _, chunk := range chunks {
		t.store.Delete(chunk)
	}
	return t.store.Set(key, value)
}

func (t fastTier) delete(_ context.Context, key string) error {
	t.store.Delete(key)
	return nil
}

// evictionCandidate picks the blob to drop: one written by another schema
// version if any, otherwise the one with the oldest timestamp. Chunks of the
// entry being written and entries without a timestamp are never chosen.
func (t fastTier) evictionCandidate(writing string) (string, []string) {
	owner := writing
	if o, ok := skein.ChunkOwner(writing); ok {
		owner = o
	}

	var (
		oldestKey    string
		oldestChunks []string
		oldestStamp  int64
	)
	for _, key := range t.store.Keys() {
		if key == owner {
			continue
		}
		if _, isChunk := skein.ChunkOwner(key); isChunk {
			continue
		}
		raw, ok := t.store.Get(key)
		if !ok {
			continue
		}
		var head struct {
			Version   string `json:"version"`
			Timestamp *int64 `json:"timestamp"`
			Chunks    int    `json:"chunks"`
			Offset    int    `json:"offset"`
		}
		if json.Unmarshal(raw, &head) != nil {
			continue
		}
		chunks := envelope{Chunks: head.Chunks, Offset: head.Offset}.chunkKeys(key)
		if head.Version != "" && head.Version != SchemaVersion {
			return key, chunks
		}
		if head.Timestamp == nil {
			continue
		}
		if oldestKey == "" || *head.Timestamp < oldestStamp {
			oldestKey, oldestChunks, oldestStamp = key, chunks, *head.Timestamp
		}
	}
	return oldestKey, oldestChunks
}
