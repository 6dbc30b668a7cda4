package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"skein-go/internal/durable"
	"skein-go/internal/encryption"
	"skein-go/internal/fast"
	"skein-go/internal/skein"
)

var writtenAt = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newMemoryTier() (durableTier, *durable.MemoryStore) {
	store := durable.NewMemoryStore("memory")
	return durableTier{store: store}, store
}

func TestWriteReadEntry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		payload    string
		chunkSize  int
		wantChunks int
	}{
		{name: "inline", payload: `"abcdefghij"`, chunkSize: 64, wantChunks: 0},
		{name: "chunked", payload: `"abcdefghij"`, chunkSize: 4, wantChunks: 3},
		{name: "exact chunk size stays inline", payload: `"ab"`, chunkSize: 4, wantChunks: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, store := newMemoryTier()
			if err := writeEntry(ctx, tier, "k", []byte(tt.payload), writtenAt, tt.chunkSize); err != nil {
				t.Fatalf("writeEntry() error = %v", err)
			}

			keys, _ := store.Keys(ctx)
			if len(keys) != tt.wantChunks+1 {
				t.Errorf("stored keys = %v, want header plus %d chunks", keys, tt.wantChunks)
			}

			got, stamp, err := readEntry(ctx, tier, "k", time.Hour, writtenAt.Add(time.Minute))
			if err != nil {
				t.Fatalf("readEntry() error = %v", err)
			}
			if string(got) != tt.payload {
				t.Errorf("payload = %q, want %q", got, tt.payload)
			}
			if !stamp.Equal(writtenAt) {
				t.Errorf("timestamp = %v, want %v", stamp, writtenAt)
			}
		})
	}
}

func TestWriteEntry_RemovesStaleChunks(t *testing.T) {
	ctx := context.Background()
	tier, store := newMemoryTier()

	if err := writeEntry(ctx, tier, "k", []byte(`"abcdefghijklmnop"`), writtenAt, 4); err != nil {
		t.Fatalf("first writeEntry() error = %v", err)
	}
	if err := writeEntry(ctx, tier, "k", []byte(`"abcdef"`), writtenAt, 4); err != nil {
		t.Fatalf("second writeEntry() error = %v", err)
	}

	keys, _ := store.Keys(ctx)
	if len(keys) != 3 {
		t.Errorf("stored keys = %v, want header plus 2 chunks", keys)
	}
	got, _, err := readEntry(ctx, tier, "k", 0, writtenAt)
	if err != nil || string(got) != `"abcdef"` {
		t.Errorf("readEntry() = (%q, %v)", got, err)
	}
}

// headerFailTier refuses writes to one key once armed.
type headerFailTier struct {
	durableTier
	key   string
	armed *bool
}

func (h headerFailTier) set(ctx context.Context, key string, value []byte) error {
	if *h.armed && key == h.key {
		return errors.New("write refused")
	}
	return h.durableTier.set(ctx, key, value)
}

func TestWriteEntry_FailedHeaderKeepsPreviousEntry(t *testing.T) {
	ctx := context.Background()
	inner, store := newMemoryTier()
	armed := false
	tier := headerFailTier{durableTier: inner, key: "k", armed: &armed}

	if err := writeEntry(ctx, tier, "k", []byte(`"abcdefghijklmnop"`), writtenAt, 4); err != nil {
		t.Fatalf("first writeEntry() error = %v", err)
	}
	before, _ := store.Keys(ctx)

	armed = true
	if err := writeEntry(ctx, tier, "k", []byte(`"ponmlkjihgfedcba"`), writtenAt.Add(time.Minute), 4); err == nil {
		t.Fatal("writeEntry() succeeded with header write refused")
	}

	got, stamp, err := readEntry(ctx, tier, "k", time.Hour, writtenAt.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("readEntry() error = %v", err)
	}
	if string(got) != `"abcdefghijklmnop"` || !stamp.Equal(writtenAt) {
		t.Errorf("readEntry() = (%q, %v), want previous entry", got, stamp)
	}
	after, _ := store.Keys(ctx)
	if len(after) != len(before) {
		t.Errorf("keys after failed write = %v, want %v", after, before)
	}
}

func TestWriteEntry_AlternatesChunkRanges(t *testing.T) {
	ctx := context.Background()
	tier, store := newMemoryTier()

	payloads := []string{`"abcdefghij"`, `"klmnopqrst"`, `"uvwxyzabcd"`}
	for i, payload := range payloads {
		if err := writeEntry(ctx, tier, "k", []byte(payload), writtenAt, 4); err != nil {
			t.Fatalf("writeEntry(%d) error = %v", i, err)
		}
		got, _, err := readEntry(ctx, tier, "k", 0, writtenAt)
		if err != nil || string(got) != payload {
			t.Errorf("after write %d readEntry() = (%q, %v), want %q", i, got, err, payload)
		}
		keys, _ := store.Keys(ctx)
		if len(keys) != 4 {
			t.Errorf("after write %d stored keys = %v, want header plus 3 chunks", i, keys)
		}
	}
}

func TestReadEntry_Missing(t *testing.T) {
	tier, _ := newMemoryTier()
	got, stamp, err := readEntry(context.Background(), tier, "absent", time.Hour, writtenAt)
	if err != nil || got != nil || !stamp.IsZero() {
		t.Errorf("readEntry() = (%q, %v, %v), want nothing", got, stamp, err)
	}
}

func TestReadEntry_PurgesUnusableEntries(t *testing.T) {
	ctx := context.Background()
	ms := skein.UnixMilli(writtenAt)

	tests := []struct {
		name    string
		values  map[string]string
		ttl     time.Duration
		now     time.Time
		wantErr error
	}{
		{
			name:    "other schema version",
			values:  map[string]string{"k": fmt.Sprintf(`{"version":"v0","timestamp":%d,"payload":1}`, ms)},
			ttl:     time.Hour,
			now:     writtenAt,
			wantErr: skein.ErrSchemaVersionMismatch,
		},
		{
			name:    "not json",
			values:  map[string]string{"k": "garbage"},
			ttl:     time.Hour,
			now:     writtenAt,
			wantErr: skein.ErrCorruptEntry,
		},
		{
			name:    "no payload",
			values:  map[string]string{"k": fmt.Sprintf(`{"version":"v1","timestamp":%d}`, ms)},
			ttl:     time.Hour,
			now:     writtenAt,
			wantErr: skein.ErrCorruptEntry,
		},
		{
			name: "missing chunk",
			values: map[string]string{
				"k":                    fmt.Sprintf(`{"version":"v1","timestamp":%d,"chunks":2}`, ms),
				skein.ChunkKey("k", 0): "abc",
			},
			ttl:     time.Hour,
			now:     writtenAt,
			wantErr: skein.ErrCorruptEntry,
		},
		{
			name:    "one millisecond past ttl",
			values:  map[string]string{"k": fmt.Sprintf(`{"version":"v1","timestamp":%d,"payload":1}`, ms)},
			ttl:     time.Hour,
			now:     writtenAt.Add(time.Hour + time.Millisecond),
			wantErr: skein.ErrEntryExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, store := newMemoryTier()
			for k, v := range tt.values {
				if err := store.Set(ctx, k, []byte(v)); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
			}

			_, _, err := readEntry(ctx, tier, "k", tt.ttl, tt.now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("readEntry() error = %v, want %v", err, tt.wantErr)
			}

			keys, _ := store.Keys(ctx)
			if len(keys) != 0 {
				t.Errorf("keys left after purge: %v", keys)
			}
		})
	}
}

func TestReadEntry_ExactlyAtTTL(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemoryTier()
	if err := writeEntry(ctx, tier, "k", []byte("1"), writtenAt, 0); err != nil {
		t.Fatalf("writeEntry() error = %v", err)
	}
	if _, _, err := readEntry(ctx, tier, "k", time.Hour, writtenAt.Add(time.Hour)); err != nil {
		t.Errorf("readEntry() at ttl boundary error = %v", err)
	}
}

func TestReadEntry_TierFailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	tier := failingTier{err: errors.New("disk gone")}
	_, _, err := readEntry(ctx, tier, "k", time.Hour, writtenAt)
	if err == nil || errors.Is(err, skein.ErrCorruptEntry) {
		t.Errorf("readEntry() error = %v, want plain tier failure", err)
	}
}

func TestReadEntry_PurgesEntryTierCannotOpen(t *testing.T) {
	ctx := context.Background()
	store := durable.NewMemoryStore("memory")
	if err := store.Set(ctx, "k", []byte("not a sealed blob")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	tier := durableTier{store: durable.NewEncryptedStore(store, encryption.TestCipher{})}

	_, _, err := readEntry(ctx, tier, "k", time.Hour, writtenAt)
	if !errors.Is(err, skein.ErrCorruptEntry) {
		t.Fatalf("readEntry() error = %v, want %v", err, skein.ErrCorruptEntry)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("unopenable entry still stored")
	}
}

type failingTier struct{ err error }

func (f failingTier) name() string { return "failing" }
func (f failingTier) get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}
func (f failingTier) set(context.Context, string, []byte) error { return f.err }
func (f failingTier) delete(context.Context, string) error      { return f.err }

func TestFastTier_EvictsOnQuota(t *testing.T) {
	ctx := context.Background()
	header := func(version string, at time.Time) []byte {
		return []byte(fmt.Sprintf(`{"version":%q,"timestamp":%d,"payload":1}`, version, skein.UnixMilli(at)))
	}

	tests := []struct {
		name        string
		existing    map[string][]byte
		wantEvicted string
	}{
		{
			name: "oldest timestamp goes",
			existing: map[string][]byte{
				"old":   header("v1", writtenAt),
				"newer": header("v1", writtenAt.Add(time.Hour)),
			},
			wantEvicted: "old",
		},
		{
			name: "other schema version goes first",
			existing: map[string][]byte{
				"old":   header("v1", writtenAt),
				"stale": header("v0", writtenAt.Add(time.Hour)),
			},
			wantEvicted: "stale",
		},
		{
			name: "entries without timestamp are kept",
			existing: map[string][]byte{
				"marker": []byte(`{"version":"v1","migratedAt":"2024-01-15T10:00:00Z"}`),
				"newer":  header("v1", writtenAt.Add(time.Hour)),
			},
			wantEvicted: "newer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var used int64
			for k, v := range tt.existing {
				used += int64(len(k) + len(v))
			}
			incoming := header("v1", writtenAt.Add(2*time.Hour))
			store, err := fast.New(used+int64(len("incoming")+len(incoming))-1, "", nil)
			if err != nil {
				t.Fatalf("fast.New() error = %v", err)
			}
			for k, v := range tt.existing {
				if err := store.Set(k, v); err != nil {
					t.Fatalf("Set(%q) error = %v", k, err)
				}
			}

			tier := fastTier{store: store, logger: skein.NewNopLogger()}
			if err := tier.set(ctx, "incoming", incoming); err != nil {
				t.Fatalf("set() error = %v", err)
			}

			if _, ok := store.Get(tt.wantEvicted); ok {
				t.Errorf("%q not evicted", tt.wantEvicted)
			}
			for k := range tt.existing {
				if k == tt.wantEvicted {
					continue
				}
				if _, ok := store.Get(k); !ok {
					t.Errorf("%q evicted, want kept", k)
				}
			}
		})
	}
}

func TestFastTier_NothingToEvict(t *testing.T) {
	store, err := fast.New(8, "", nil)
	if err != nil {
		t.Fatalf("fast.New() error = %v", err)
	}
	tier := fastTier{store: store, logger: skein.NewNopLogger()}
	err = tier.set(context.Background(), "key", []byte("far too large"))
	if !errors.Is(err, skein.ErrQuotaExceeded) {
		t.Errorf("set() error = %v, want ErrQuotaExceeded", err)
	}
}
