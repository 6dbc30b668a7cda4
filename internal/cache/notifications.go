package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"skein-go/internal/model"
	"skein-go/internal/skein"
)

type partitionState struct {
	notifications []model.Notification
	stamp         time.Time
	dirty         bool
}

// NotificationStore is the two-tier notification cache. Each partition is
// its own entry with its own write timestamp, so partitions expire and clear
// independently. Large partitions are split into chunks when persisted.
type NotificationStore struct {
	durable blobTier
	fast    blobTier
	opts    Options

	mu       sync.Mutex
	resident map[skein.Partition]*partitionState

	writeMu sync.Mutex
	pending sync.WaitGroup
}

// NewNotificationStore creates a notification cache over the given tiers.
// durable may be nil, in which case only the fast tier is used.
func NewNotificationStore(durable skein.DurableStore, fast skein.SyncStore, opts Options) *NotificationStore {
	opts = opts.withDefaults(DefaultNotificationTTL)
	s := &NotificationStore{
		fast:     fastTier{store: fast, logger: opts.Logger},
		opts:     opts,
		resident: make(map[skein.Partition]*partitionState),
	}
	if durable != nil {
		s.durable = durableTier{store: durable}
	}
	return s
}

// Load returns a partition newest first. Both tiers are read and the entry
// with the later write timestamp wins, so a fast tier fallback write is not
// shadowed by an older durable entry. ok is false when neither holds a
// usable entry.
func (s *NotificationStore) Load(ctx context.Context, partition skein.Partition) ([]model.Notification, bool) {
	now := s.opts.Clock.Now()

	s.mu.Lock()
	state, ok := s.resident[partition]
	if ok && now.Sub(state.stamp) > s.opts.TTL {
		delete(s.resident, partition)
		ok = false
		s.mu.Unlock()
		s.opts.Logger.Debug("notification partition expired", "partition", partition)
		s.purge(ctx, partition)
	} else {
		s.mu.Unlock()
	}
	if ok {
		return cloneNotifications(state.notifications), true
	}

	key := NotificationsKey(partition)
	var (
		newest      []model.Notification
		newestStamp time.Time
		found       bool
	)
	for _, tier := range s.tiers() {
		notifications, stamp, ok := s.readPartition(ctx, tier, key)
		if !ok || (found && !stamp.After(newestStamp)) {
			continue
		}
		newest, newestStamp, found = notifications, stamp, true
	}
	if !found {
		return nil, false
	}

	s.mu.Lock()
	if _, raced := s.resident[partition]; !raced {
		s.resident[partition] = &partitionState{notifications: newest, stamp: newestStamp}
	}
	s.mu.Unlock()
	return cloneNotifications(newest), true
}

func (s *NotificationStore) tiers() []blobTier {
	if s.durable == nil {
		return []blobTier{s.fast}
	}
	return []blobTier{s.durable, s.fast}
}

func (s *NotificationStore) readPartition(ctx context.Context, tier blobTier, key string) ([]model.Notification, time.Time, bool) {
	payload, stamp, err := readEntry(ctx, tier, key, s.opts.TTL, s.opts.Clock.Now())
	if err != nil {
		logReadError(s.opts.Logger, tier, key, err)
		return nil, time.Time{}, false
	}
	if payload == nil {
		return nil, time.Time{}, false
	}
	var notifications []model.Notification
	if err := json.Unmarshal(payload, &notifications); err != nil {
		removeEntry(ctx, tier, key)
		logReadError(s.opts.Logger, tier, key, fmt.Errorf("decoding notifications: %w: %v", skein.ErrCorruptEntry, err))
		return nil, time.Time{}, false
	}
	return skein.MergeNotifications(notifications), stamp, true
}

// Save replaces a partition's contents and schedules a write-behind. The
// list is deduplicated by uri+reason and ordered newest first.
func (s *NotificationStore) Save(partition skein.Partition, notifications []model.Notification) {
	s.mu.Lock()
	s.resident[partition] = &partitionState{
		notifications: skein.MergeNotifications(notifications),
		stamp:         s.opts.Clock.Now(),
		dirty:         true,
	}
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.persist(context.Background(), partition)
	}()
}

func (s *NotificationStore) persist(ctx context.Context, partition skein.Partition) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	state, ok := s.resident[partition]
	if !ok || !state.dirty {
		s.mu.Unlock()
		return
	}
	state.dirty = false
	notifications, stamp := state.notifications, state.stamp
	s.mu.Unlock()

	payload, err := json.Marshal(notifications)
	if err != nil {
		s.opts.Logger.Warn("dropping notification cache write", "partition", partition, "error", err)
		return
	}

	key := NotificationsKey(partition)
	if s.durable != nil {
		err := writeEntry(ctx, s.durable, key, payload, stamp, s.opts.ChunkSize)
		if err == nil {
			return
		}
		s.opts.Logger.Warn("durable notification write failed, falling back to fast tier",
			"partition", partition, "error", err)
	}
	if err := writeEntry(ctx, s.fast, key, payload, stamp, s.opts.ChunkSize); err != nil {
		s.opts.Logger.Warn("dropping notification cache write", "partition", partition, "tier", s.fast.name(), "error", err)
	}
}

// Flush waits until every scheduled write has finished or ctx is done.
func (s *NotificationStore) Flush(ctx context.Context) error {
	return waitGroup(ctx, &s.pending)
}

// Clear wipes one partition in memory and in both tiers.
func (s *NotificationStore) Clear(ctx context.Context, partition skein.Partition) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.resident, partition)
	s.mu.Unlock()

	key := NotificationsKey(partition)
	removeEntry(ctx, s.fast, key)
	if s.durable != nil {
		if err := removeEntryErr(ctx, s.durable, key); err != nil {
			return fmt.Errorf("clearing durable %s notifications: %w", partition, err)
		}
	}
	s.opts.Logger.Info("notification cache cleared", "partition", partition)
	return nil
}

func (s *NotificationStore) purge(ctx context.Context, partition skein.Partition) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	key := NotificationsKey(partition)
	for _, tier := range s.tiers() {
		removeEntry(ctx, tier, key)
	}
}

func cloneNotifications(in []model.Notification) []model.Notification {
	out := make([]model.Notification, len(in))
	copy(out, in)
	return out
}

// Compile-time check that NotificationStore implements skein.NotificationCache.
var _ skein.NotificationCache = (*NotificationStore)(nil)
