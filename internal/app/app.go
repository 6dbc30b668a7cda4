package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"skein-go/internal/bsky"
	"skein-go/internal/cache"
	"skein-go/internal/config"
	"skein-go/internal/durable"
	"skein-go/internal/encryption"
	"skein-go/internal/fast"
	"skein-go/internal/gateway"
	"skein-go/internal/model"
	"skein-go/internal/scheduler"
	"skein-go/internal/skein"
)

// closeTimeout bounds how long Close waits for write-behind to drain.
const closeTimeout = 10 * time.Second

// SkeinApp is the application layer between the CLI and SkeinService.
// It constructs all dependencies from config and flushes the caches on Close.
type SkeinApp struct {
	cfg           *config.Config
	runID         string
	durable       skein.DurableStore
	fast          *fast.Store
	posts         *cache.PostStore
	notifications *cache.NotificationStore
	service       *skein.SkeinService
	logger        skein.Logger
	logFile       *os.File
}

// NewSkeinApp creates a fully wired SkeinApp from the given config.
// command identifies the CLI command being run and is attached to every log
// record. The caller must call Close when done.
func NewSkeinApp(ctx context.Context, cfg *config.Config, command string) (*SkeinApp, error) {
	runID := uuid.New().String()

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
	}
	l, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l.With("command", command)}

	a, err := wire(ctx, cfg, runID, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// wire builds the object graph. It owns the durable store until it returns
// successfully.
func wire(ctx context.Context, cfg *config.Config, runID string, logger skein.Logger) (*SkeinApp, error) {
	clock := skein.RealClock{}

	store, err := durable.NewDurableStoreFromConfig(ctx, cfg.Durable, clock)
	if err != nil {
		return nil, fmt.Errorf("creating durable store: %w", err)
	}

	sealed, err := encryptStore(store, cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, err
	}
	store = sealed

	fastStore, err := fast.New(cfg.Fast.MaxSize, cfg.Fast.SnapshotPath, skein.ComponentLogger(logger, "fast"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating fast tier: %w", err)
	}

	gw, err := gateway.New(cfg.Gateway.Requests, cfg.Gateway.Window.Duration, skein.ComponentLogger(logger, "gateway"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating fetch gateway: %w", err)
	}

	posts := cache.NewPostStore(store, fastStore, cache.Options{
		TTL:       cfg.Cache.PostTTL.Duration,
		ChunkSize: cfg.Cache.ChunkSize,
		Clock:     clock,
		Logger:    skein.ComponentLogger(logger, "posts"),
	})
	posts.Open(ctx)

	notifications := cache.NewNotificationStore(store, fastStore, cache.Options{
		TTL:       cfg.Cache.NotificationTTL.Duration,
		ChunkSize: cfg.Cache.ChunkSize,
		Clock:     clock,
		Logger:    skein.ComponentLogger(logger, "notifications"),
	})

	client := bsky.NewClient(cfg.Remote)
	fetcher := skein.NewProgressiveFetcher(posts, client, gw, clock, skein.ComponentLogger(logger, "fetch"), skein.UUIDGenerator{})

	tiers := []skein.StorageTier{store, skein.SyncTier("fast", fastStore)}
	monitor := skein.NewStorageMonitor(tiers, cfg.Health.SoftCap, cfg.Health.TempPatterns, clock, skein.ComponentLogger(logger, "health"))

	return &SkeinApp{
		cfg:           cfg,
		runID:         runID,
		durable:       store,
		fast:          fastStore,
		posts:         posts,
		notifications: notifications,
		service:       skein.NewSkeinService(posts, notifications, client, fetcher, monitor, logger),
		logger:        logger,
	}, nil
}

// encryptStore wraps store in an EncryptedStore when encryption is configured.
func encryptStore(store skein.DurableStore, cfg config.EncryptionConfig) (skein.DurableStore, error) {
	keys, err := encryption.NewKeyManagerFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating key manager: %w", err)
	}
	if keys == nil {
		return store, nil
	}
	if !keys.IsConfigured() {
		return nil, errors.New("encryption enabled but no keys found: run 'skein keys init'")
	}

	passphrase, err := ReadPassphrase("Cache passphrase: ")
	if err != nil {
		return nil, err
	}
	cipher, err := keys.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking encryption keys: %w", err)
	}
	return durable.NewEncryptedStore(store, cipher), nil
}

// RunID identifies this invocation in the log.
func (a *SkeinApp) RunID() string { return a.runID }

// FetchOptions returns the progressive fetch shape from config.
func (a *SkeinApp) FetchOptions() skein.FetchOptions {
	f := a.cfg.Fetch
	return skein.FetchOptions{
		InitialSlice: f.InitialSlice,
		EarlyRounds:  f.EarlyRounds,
		EarlyBatch:   f.EarlyBatch,
		EarlyDelay:   f.EarlyDelay.Duration,
		LateBatch:    f.LateBatch,
		LateDelay:    f.LateDelay.Duration,
		MaxAttempts:  f.MaxAttempts,
	}
}

// Sync pulls up to pages pages of notifications and merges them into the cache.
func (a *SkeinApp) Sync(ctx context.Context, pages int) ([]model.Notification, error) {
	return a.service.SyncNotifications(ctx, pages)
}

// Threads groups the cached notifications into threads. With resolve set,
// referenced posts are fetched first and progress is reported through
// progress (which may be nil).
func (a *SkeinApp) Threads(ctx context.Context, resolve bool, progress func(fetched, total int)) ([]*skein.ConversationThread, *skein.FetchResult, error) {
	notifications, ok := a.service.CachedNotifications(ctx, skein.PartitionAll)
	if !ok {
		return nil, nil, errors.New("no cached notifications: run 'skein sync' first")
	}

	var result *skein.FetchResult
	if resolve {
		opts := a.FetchOptions()
		opts.Progress = progress
		result = a.service.ResolvePosts(ctx, notifications, opts)
	}
	return a.service.Threads(notifications), result, nil
}

// ThreadTree assembles the reply tree of thread from resident posts.
func (a *SkeinApp) ThreadTree(thread *skein.ConversationThread) *skein.ThreadNode {
	return a.service.ThreadTree(thread)
}

// Health measures every tier.
func (a *SkeinApp) Health(ctx context.Context) (*skein.StorageReport, error) {
	return a.service.StorageReport(ctx)
}

// Cleanup removes entries older than days from every tier.
func (a *SkeinApp) Cleanup(ctx context.Context, days int) (*skein.CleanupResult, error) {
	return a.service.Cleanup(ctx, days)
}

// Clear wipes the selected caches.
func (a *SkeinApp) Clear(ctx context.Context, posts, notifications bool) error {
	return a.service.ClearCaches(ctx, posts, notifications)
}

// Watch runs sync and cleanup on their configured schedules until ctx is
// done. A sync runs once immediately.
func (a *SkeinApp) Watch(ctx context.Context) error {
	w := a.cfg.Watch
	s, err := scheduler.New(w.Timezone, skein.ComponentLogger(a.logger, "scheduler"))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	syncJob := func(ctx context.Context) error {
		notifications, err := a.service.SyncNotifications(ctx, w.Pages)
		if err != nil {
			return err
		}
		result := a.service.ResolvePosts(ctx, skein.PriorityNotifications(notifications), a.FetchOptions())
		a.logger.Info("watch sync finished", "notifications", len(notifications), "posts_resolved", result.Resolved)
		return nil
	}
	cleanupJob := func(ctx context.Context) error {
		_, err := a.service.Cleanup(ctx, w.CleanupKeepDays)
		return err
	}

	if w.SyncSchedule != "" {
		if err := s.AddJob("sync", w.SyncSchedule, syncJob); err != nil {
			return err
		}
	}
	if w.CleanupSchedule != "" {
		if err := s.AddJob("cleanup", w.CleanupSchedule, cleanupJob); err != nil {
			return err
		}
	}
	if len(s.ListJobs()) == 0 {
		return errors.New("no watch schedules configured")
	}

	if w.SyncSchedule != "" {
		if err := s.RunNow(ctx, "sync", syncJob); err != nil {
			a.logger.Warn("initial sync failed", "error", err)
		}
	}

	s.Start()
	for _, job := range s.ListJobs() {
		a.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
	}
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// Close waits for pending cache writes and releases every resource.
func (a *SkeinApp) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := a.posts.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing post cache: %w", err))
	}
	if err := a.notifications.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing notification cache: %w", err))
	}
	if err := a.durable.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing durable store: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}
