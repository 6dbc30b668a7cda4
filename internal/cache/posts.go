package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"skein-go/internal/model"
	"skein-go/internal/skein"
)

// Options configures a cache store. Zero values select the defaults.
type Options struct {
	TTL       time.Duration
	ChunkSize int
	Clock     skein.Clock
	Logger    skein.Logger
}

func (o Options) withDefaults(ttl time.Duration) Options {
	if o.TTL <= 0 {
		o.TTL = ttl
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Clock == nil {
		o.Clock = skein.RealClock{}
	}
	o.Logger = skein.OrNop(o.Logger)
	return o
}

// PostStore is the two-tier post content cache.
//
// Posts are held in memory as a single entry with one write timestamp, so
// expiry is whole-entry: once the last write is older than the TTL every
// post goes. The fast tier seeds memory synchronously at construction; the
// durable tier is loaded in the background by Open and merged in. Writes are
// write-behind: Put returns at once and the whole entry is persisted to the
// durable tier, falling back to the fast tier if that fails.
type PostStore struct {
	durable blobTier
	fast    blobTier
	opts    Options

	openOnce sync.Once
	ready    chan struct{}

	mu         sync.RWMutex
	posts      map[string]model.Post
	stamp      time.Time
	dirty      bool
	seeded     map[string]bool
	seedStamp  time.Time
	putEarly   map[string]bool
	fastHadAny bool

	writeMu sync.Mutex
	pending sync.WaitGroup
}

// NewPostStore creates a post cache over the given tiers. durable may be nil,
// in which case only the fast tier is used.
func NewPostStore(durable skein.DurableStore, fast skein.SyncStore, opts Options) *PostStore {
	opts = opts.withDefaults(DefaultPostTTL)
	s := &PostStore{
		fast:     fastTier{store: fast, logger: opts.Logger},
		opts:     opts,
		ready:    make(chan struct{}),
		posts:    make(map[string]model.Post),
		seeded:   make(map[string]bool),
		putEarly: make(map[string]bool),
	}
	if durable != nil {
		s.durable = durableTier{store: durable}
	}
	s.seedFromFast()
	return s
}

func (s *PostStore) seedFromFast() {
	posts, stamp, ok := s.readPosts(context.Background(), s.fast)
	if !ok {
		return
	}
	for uri, post := range posts {
		s.posts[uri] = post
		s.seeded[uri] = true
	}
	s.stamp = stamp
	s.seedStamp = stamp
	s.fastHadAny = len(posts) > 0
	s.opts.Logger.Debug("seeded posts from fast tier", "count", len(posts))
}

// readPosts loads and decodes the posts entry from one tier. Unusable
// entries are logged and treated as absent.
func (s *PostStore) readPosts(ctx context.Context, tier blobTier) (map[string]model.Post, time.Time, bool) {
	payload, stamp, err := readEntry(ctx, tier, PostsKey, s.opts.TTL, s.opts.Clock.Now())
	if err != nil {
		logReadError(s.opts.Logger, tier, PostsKey, err)
		return nil, time.Time{}, false
	}
	if payload == nil {
		return nil, time.Time{}, false
	}
	var posts map[string]model.Post
	if err := json.Unmarshal(payload, &posts); err != nil {
		removeEntry(ctx, tier, PostsKey)
		logReadError(s.opts.Logger, tier, PostsKey, fmt.Errorf("decoding posts: %w: %v", skein.ErrCorruptEntry, err))
		return nil, time.Time{}, false
	}
	return posts, stamp, true
}

func logReadError(logger skein.Logger, tier blobTier, key string, err error) {
	switch {
	case errors.Is(err, skein.ErrEntryExpired), errors.Is(err, skein.ErrSchemaVersionMismatch):
		logger.Debug("discarded cache entry", "tier", tier.name(), "key", key, "reason", err)
	case errors.Is(err, skein.ErrCorruptEntry):
		logger.Warn("discarded corrupt cache entry", "tier", tier.name(), "key", key, "error", err)
	default:
		logger.Warn("cache tier read failed", "tier", tier.name(), "key", key, "error", err)
	}
}

// Open starts loading the durable tier in the background. It is idempotent
// and is called implicitly by Get and Put.
func (s *PostStore) Open(ctx context.Context) {
	s.openOnce.Do(func() {
		if s.durable == nil {
			close(s.ready)
			return
		}
		ctx := context.WithoutCancel(ctx)
		go func() {
			defer close(s.ready)
			s.loadDurable(ctx)
		}()
	})
}

// Ready is closed once the durable tier has been loaded (or found unusable).
func (s *PostStore) Ready() <-chan struct{} { return s.ready }

func (s *PostStore) loadDurable(ctx context.Context) {
	posts, stamp, ok := s.readPosts(ctx, s.durable)

	s.mu.Lock()
	if ok {
		for uri, post := range posts {
			if s.putEarly[uri] {
				continue
			}
			if s.seeded[uri] && s.seedStamp.After(stamp) {
				continue
			}
			s.posts[uri] = post
		}
		if stamp.After(s.stamp) {
			s.stamp = stamp
		}
		s.opts.Logger.Debug("loaded posts from durable tier", "count", len(posts))
	}
	var unmigrated bool
	if s.fastHadAny {
		for uri := range s.seeded {
			if _, inDurable := posts[uri]; !inDurable {
				unmigrated = true
				break
			}
		}
	}
	s.mu.Unlock()

	if s.fastHadAny {
		s.migrate(ctx, unmigrated)
	}
}

// migrate copies fast tier posts into the durable tier once. The marker
// makes later opens skip it, including after the copy was a no-op.
func (s *PostStore) migrate(ctx context.Context, needed bool) {
	_, done, err := s.durable.get(ctx, MigrationKey)
	if err != nil {
		s.opts.Logger.Warn("checking migration marker", "error", err)
		return
	}
	if done {
		return
	}

	if needed {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		if err := s.writeDurable(ctx); err != nil {
			s.opts.Logger.Warn("migrating posts to durable tier", "error", err)
			return
		}
	}

	body, err := json.Marshal(marker{
		Version:    SchemaVersion,
		MigratedAt: s.opts.Clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.opts.Logger.Warn("encoding migration marker", "error", err)
		return
	}
	if err := s.durable.set(ctx, MigrationKey, body); err != nil {
		s.opts.Logger.Warn("writing migration marker", "error", err)
		return
	}
	s.opts.Logger.Info("migrated posts from fast tier", "copied", needed)
}

// writeDurable persists the current snapshot to the durable tier if dirty.
func (s *PostStore) writeDurable(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, stamp, ok, err := s.snapshot()
	if err != nil || !ok {
		return err
	}
	if err := writeEntry(ctx, s.durable, PostsKey, payload, stamp, s.opts.ChunkSize); err != nil {
		s.markDirty()
		return err
	}
	return nil
}

// snapshot encodes the resident posts and clears the dirty flag.
func (s *PostStore) snapshot() ([]byte, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, time.Time{}, false, nil
	}
	payload, err := json.Marshal(s.posts)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("encoding posts: %w", err)
	}
	s.dirty = false
	return payload, s.stamp, true, nil
}

func (s *PostStore) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Get partitions uris into resident posts and missing ids, both in input
// order, with duplicates collapsed to their first occurrence. It waits for
// the durable tier to load unless ctx ends first, in which case it answers
// from whatever is resident.
func (s *PostStore) Get(ctx context.Context, uris []string) ([]model.Post, []string) {
	s.Open(ctx)
	select {
	case <-s.ready:
	case <-ctx.Done():
	}
	s.expireIfStale(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(uris))
	var cached []model.Post
	var missing []string
	for _, uri := range uris {
		if seen[uri] {
			continue
		}
		seen[uri] = true
		if post, ok := s.posts[uri]; ok {
			cached = append(cached, post)
		} else {
			missing = append(missing, uri)
		}
	}
	return cached, missing
}

// expireIfStale drops every resident post and both persisted copies once the
// entry's last write is older than the TTL.
func (s *PostStore) expireIfStale(ctx context.Context) {
	s.mu.Lock()
	if s.stamp.IsZero() || s.opts.Clock.Now().Sub(s.stamp) <= s.opts.TTL {
		s.mu.Unlock()
		return
	}
	count := len(s.posts)
	s.posts = make(map[string]model.Post)
	s.stamp = time.Time{}
	s.dirty = false
	s.mu.Unlock()

	s.opts.Logger.Debug("post cache expired", "count", count)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	removeEntry(ctx, s.fast, PostsKey)
	if s.durable != nil {
		removeEntry(ctx, s.durable, PostsKey)
	}
}

// Put upserts posts and schedules a write-behind. It never blocks on
// persistence; use Flush to wait for pending writes.
func (s *PostStore) Put(posts []model.Post) {
	if len(posts) == 0 {
		return
	}
	s.Open(context.Background())

	s.mu.Lock()
	loaded := isClosed(s.ready)
	for _, post := range posts {
		s.posts[post.URI] = post
		if !loaded {
			s.putEarly[post.URI] = true
		}
	}
	s.stamp = s.opts.Clock.Now()
	s.dirty = true
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		<-s.ready
		s.persist(context.Background())
	}()
}

// persist writes the resident posts to the durable tier, falling back to the
// fast tier. Concurrent calls coalesce: whoever runs first writes
// everything and the rest find nothing dirty.
func (s *PostStore) persist(ctx context.Context) {
	if s.durable != nil {
		err := s.writeDurable(ctx)
		if err == nil {
			return
		}
		s.opts.Logger.Warn("durable post write failed, falling back to fast tier", "error", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	payload, stamp, ok, err := s.snapshot()
	if err != nil {
		s.opts.Logger.Warn("dropping post cache write", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := writeEntry(ctx, s.fast, PostsKey, payload, stamp, s.opts.ChunkSize); err != nil {
		s.opts.Logger.Warn("dropping post cache write", "tier", s.fast.name(), "error", err)
	}
}

// Flush waits until every scheduled write has finished or ctx is done.
func (s *PostStore) Flush(ctx context.Context) error {
	return waitGroup(ctx, &s.pending)
}

// Lookup returns a point-in-time copy of the resident posts.
func (s *PostStore) Lookup() skein.PostLookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(skein.PostMap, len(s.posts))
	for uri, post := range s.posts {
		m[uri] = post
	}
	return m
}

// Len returns the number of resident posts.
func (s *PostStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Clear wipes resident posts and both persisted copies.
func (s *PostStore) Clear(ctx context.Context) error {
	s.Open(ctx)
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.posts = make(map[string]model.Post)
	s.stamp = time.Time{}
	s.dirty = false
	s.mu.Unlock()

	removeEntry(ctx, s.fast, PostsKey)
	if s.durable != nil {
		if err := removeEntryErr(ctx, s.durable, PostsKey); err != nil {
			return fmt.Errorf("clearing durable posts: %w", err)
		}
	}
	s.opts.Logger.Info("post cache cleared")
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// removeEntry deletes key and its chunks, ignoring failures.
func removeEntry(ctx context.Context, tier blobTier, key string) {
	_ = removeEntryErr(ctx, tier, key)
}

func removeEntryErr(ctx context.Context, tier blobTier, key string) error {
	var env envelope
	if raw, ok, err := tier.get(ctx, key); err == nil && ok {
		if json.Unmarshal(raw, &env) != nil {
			env = envelope{}
		}
	}
	if err := tier.delete(ctx, key); err != nil {
		return err
	}
	for _, chunk := range env.chunkKeys(key) {
		if err := tier.delete(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time check that PostStore implements skein.PostCache.
var _ skein.PostCache = (*PostStore)(nil)
