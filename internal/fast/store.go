package fast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"skein-go/internal/skein"
)

// DefaultMaxSize is the fast tier's byte cap when none is configured.
const DefaultMaxSize int64 = 1 << 20

// Store is the synchronous, size-capped fast tier. Entries never expire on
// their own; the cache layer applies its own TTL on top.
//
// When a snapshot path is set, every write is mirrored to that file so the
// tier survives restarts. The snapshot is written atomically (temp file + rename).
type Store struct {
	mu           sync.Mutex
	cache        *gocache.Cache
	maxSize      int64
	used         int64
	snapshotPath string
	logger       skein.Logger
}

// New creates a fast tier capped at maxSize bytes (keys plus values). If
// snapshotPath names an existing snapshot it is loaded.
func New(maxSize int64, snapshotPath string, logger skein.Logger) (*Store, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	logger = skein.OrNop(logger)

	items := make(map[string]gocache.Item)
	var used int64
	if snapshotPath != "" {
		entries, err := readSnapshot(snapshotPath)
		if err != nil {
			return nil, err
		}
		for key, value := range entries {
			items[key] = gocache.Item{Object: value}
			used += entrySize(key, value)
		}
	}

	return &Store{
		// No janitor: nothing ever expires inside go-cache.
		cache:        gocache.NewFrom(gocache.NoExpiration, 0, items),
		maxSize:      maxSize,
		used:         used,
		snapshotPath: snapshotPath,
		logger:       logger,
	}, nil
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

func (s *Store) Get(key string) ([]byte, bool) {
	v, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	value, ok := v.([]byte)
	if !ok {
		s.logger.Error("wrong type in fast tier", "key", key)
		return nil, false
	}
	return value, true
}

// Set stores value under key. It fails with skein.ErrQuotaExceeded when the
// write would push usage past the cap; the previous value is then kept.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous int64
	if old, ok := s.Get(key); ok {
		previous = entrySize(key, old)
	}
	next := s.used - previous + entrySize(key, value)
	if next > s.maxSize {
		return fmt.Errorf("writing %s (%d bytes, %d of %d used): %w",
			key, len(value), s.used, s.maxSize, skein.ErrQuotaExceeded)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Set(key, stored, gocache.NoExpiration)
	s.used = next
	s.persist()
	return nil
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.Get(key)
	if !ok {
		return
	}
	s.cache.Delete(key)
	s.used -= entrySize(key, old)
	s.persist()
}

// Keys returns every key in sorted order.
func (s *Store) Keys() []string {
	items := s.cache.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Store) Capacity() int64 { return s.maxSize }

// persist mirrors the tier to the snapshot file. The in-memory write has
// already succeeded, so a failure here is only logged. Callers hold s.mu.
func (s *Store) persist() {
	if s.snapshotPath == "" {
		return
	}
	entries := make(map[string][]byte)
	for key, item := range s.cache.Items() {
		if value, ok := item.Object.([]byte); ok {
			entries[key] = value
		}
	}
	if err := writeSnapshot(s.snapshotPath, entries); err != nil {
		s.logger.Warn("saving fast tier snapshot", "path", s.snapshotPath, "error", err)
	}
}

func readSnapshot(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fast tier snapshot: %w", err)
	}
	var entries map[string][]byte
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing fast tier snapshot %s: %w", path, err)
	}
	return entries, nil
}

func writeSnapshot(path string, entries map[string][]byte) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that Store implements skein.SyncStore.
var _ skein.SyncStore = (*Store)(nil)
