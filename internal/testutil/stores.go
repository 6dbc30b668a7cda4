package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"skein-go/internal/cache"
	"skein-go/internal/durable"
	"skein-go/internal/fast"
	"skein-go/internal/skein"
)

// ErrInjected is returned by FailingStore for every failed operation.
var ErrInjected = errors.New("injected storage failure")

// NewTestDurableStore creates an in-memory durable store.
func NewTestDurableStore() *durable.MemoryStore {
	return durable.NewMemoryStore("memory")
}

// NewTestFastStore creates a fast tier capped at maxSize bytes with no snapshot file.
func NewTestFastStore(t *testing.T, maxSize int64) *fast.Store {
	t.Helper()
	s, err := fast.New(maxSize, "", nil)
	if err != nil {
		t.Fatalf("fast.New() error = %v", err)
	}
	return s
}

// FailingStore wraps a DurableStore and fails selected operations with
// ErrInjected. The switches may be flipped while the store is in use.
type FailingStore struct {
	skein.DurableStore

	mu       sync.Mutex
	failGet  bool
	failSet  bool
	failDel  bool
	failList bool
	sets     int
}

// NewFailingStore wraps inner; nothing fails until told to.
func NewFailingStore(inner skein.DurableStore) *FailingStore {
	return &FailingStore{DurableStore: inner}
}

// FailAll makes every operation fail.
func (s *FailingStore) FailAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet, s.failSet, s.failDel, s.failList = true, true, true, true
}

// FailWrites makes Set fail.
func (s *FailingStore) FailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet = fail
}

// FailReads makes Get fail.
func (s *FailingStore) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet = fail
}

// SetCalls returns how many times Set was called, failed or not.
func (s *FailingStore) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *FailingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, false, ErrInjected
	}
	return s.DurableStore.Get(ctx, key)
}

func (s *FailingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.sets++
	fail := s.failSet
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.DurableStore.Set(ctx, key, value)
}

func (s *FailingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := s.failDel
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.DurableStore.Delete(ctx, key)
}

func (s *FailingStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	fail := s.failList
	s.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return s.DurableStore.Keys(ctx)
}

func (s *FailingStore) Usage(ctx context.Context) (int64, error) {
	s.mu.Lock()
	fail := s.failList
	s.mu.Unlock()
	if fail {
		return 0, ErrInjected
	}
	return s.DurableStore.Usage(ctx)
}

var _ skein.DurableStore = (*FailingStore)(nil)

// NewTestPostStore creates a post cache over an in-memory durable store and
// a 16MiB fast tier, opened and ready.
func NewTestPostStore(t *testing.T, clock skein.Clock) *cache.PostStore {
	t.Helper()
	s := cache.NewPostStore(NewTestDurableStore(), NewTestFastStore(t, 16<<20), cache.Options{Clock: clock})
	s.Open(context.Background())
	<-s.Ready()
	t.Cleanup(func() { _ = s.Flush(context.Background()) })
	return s
}

// NewTestNotificationStore creates a notification cache over an in-memory
// durable store and a fast tier.
func NewTestNotificationStore(t *testing.T, clock skein.Clock) *cache.NotificationStore {
	t.Helper()
	s := cache.NewNotificationStore(NewTestDurableStore(), NewTestFastStore(t, 16<<20), cache.Options{Clock: clock})
	t.Cleanup(func() { _ = s.Flush(context.Background()) })
	return s
}
