package skein

import (
	"context"

	"skein-go/internal/model"
)

// DurableStore is the slow, large, asynchronous persistence tier. Keys are
// opaque strings; values are opaque blobs. Implementations must be safe for
// concurrent use.
type DurableStore interface {
	// Name identifies the backend in logs and health reports.
	Name() string

	// Get returns the value stored under key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key held by the store.
	Keys(ctx context.Context) ([]string, error)

	// Usage returns the number of bytes held (keys plus values).
	Usage(ctx context.Context) (int64, error)

	// Close releases any underlying resources.
	Close() error
}

// SyncStore is the fast, synchronous, size-capped tier.
type SyncStore interface {
	Get(key string) ([]byte, bool)

	// Set stores value under key. It returns ErrQuotaExceeded (possibly wrapped)
	// when the write would push usage past Capacity.
	Set(key string, value []byte) error

	Delete(key string)
	Keys() []string
	Usage() int64
	Capacity() int64
}

// StorageTier is the scan/read/delete view the storage monitor works on.
// Every DurableStore is a StorageTier; SyncTier adapts a SyncStore.
type StorageTier interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Usage(ctx context.Context) (int64, error)
}

// SyncTier adapts a SyncStore to StorageTier.
func SyncTier(name string, s SyncStore) StorageTier {
	return &syncTier{name: name, store: s}
}

type syncTier struct {
	name  string
	store SyncStore
}

func (t *syncTier) Name() string { return t.name }

func (t *syncTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := t.store.Get(key)
	return v, ok, nil
}

func (t *syncTier) Delete(_ context.Context, key string) error {
	t.store.Delete(key)
	return nil
}

func (t *syncTier) Keys(context.Context) ([]string, error) { return t.store.Keys(), nil }

func (t *syncTier) Usage(context.Context) (int64, error) { return t.store.Usage(), nil }

// Capacity exposes the adapted store's byte cap to the monitor.
func (t *syncTier) Capacity() int64 { return t.store.Capacity() }

// PostLookup resolves a post URI against whatever is currently resident.
type PostLookup interface {
	Post(uri string) (*model.Post, bool)
}

// PostMap is a PostLookup backed by a plain map.
type PostMap map[string]model.Post

func (m PostMap) Post(uri string) (*model.Post, bool) {
	p, ok := m[uri]
	if !ok {
		return nil, false
	}
	return &p, true
}

// PostCache is the Post Content Store contract.
type PostCache interface {
	// Get partitions uris into resident posts and missing ids, both in input
	// order. It never fails; without the durable tier it degrades to "all missing".
	Get(ctx context.Context, uris []string) (cached []model.Post, missing []string)

	// Put upserts posts without blocking on persistence.
	Put(posts []model.Post)

	// Lookup returns a point-in-time view for root discovery.
	Lookup() PostLookup

	// Clear wipes both tiers.
	Clear(ctx context.Context) error
}

// Partition names a notification cache partition.
type Partition string

const (
	PartitionPriority Partition = "priority"
	PartitionAll      Partition = "all"
)

// NotificationCache is the Notification Object Store contract.
type NotificationCache interface {
	// Load returns the partition's notifications, newest first. ok is false
	// when the partition is absent, expired, or corrupt.
	Load(ctx context.Context, partition Partition) (notifications []model.Notification, ok bool)

	// Save replaces the partition's contents without blocking on persistence.
	Save(partition Partition, notifications []model.Notification)

	// Clear wipes one partition in both tiers.
	Clear(ctx context.Context, partition Partition) error
}

// Cipher seals durable-tier values at rest.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// KeyManager creates and unlocks the key material behind a Cipher.
type KeyManager interface {
	// Setup generates new keys protected by passphrase.
	Setup(passphrase string) error

	// Unlock returns a Cipher able to both seal and open values.
	Unlock(passphrase string) (Cipher, error)

	// IsConfigured reports whether keys exist.
	IsConfigured() bool
}
