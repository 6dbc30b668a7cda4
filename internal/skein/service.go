package skein

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"skein-go/internal/model"
)

// SkeinService is the orchestration layer the CLI talks to. It owns no
// state of its own: every cache and remote is injected once and shared.
type SkeinService struct {
	posts         PostCache
	notifications NotificationCache
	remote        NotificationFetcher
	fetcher       *ProgressiveFetcher
	monitor       *StorageMonitor
	logger        Logger
}

func NewSkeinService(posts PostCache, notifications NotificationCache, remote NotificationFetcher, fetcher *ProgressiveFetcher, monitor *StorageMonitor, logger Logger) *SkeinService {
	return &SkeinService{
		posts:         posts,
		notifications: notifications,
		remote:        remote,
		fetcher:       fetcher,
		monitor:       monitor,
		logger:        logger,
	}
}

// SyncNotifications pulls up to maxPages pages of the remote feed, merges
// them over the cached "all" partition and saves both partitions.
//
// A failure after at least one page landed is logged and the pages already
// fetched are kept. A failure on the first page is returned, and the caches
// are left untouched.
func (s *SkeinService) SyncNotifications(ctx context.Context, maxPages int) ([]model.Notification, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var fresh []model.Notification
	cursor := ""
	for page := 0; page < maxPages; page++ {
		result, err := s.remote.FetchNotifications(ctx, cursor)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("fetching notifications: %w", err)
			}
			s.logger.Warn("notification page failed; keeping earlier pages", "page", page, "error", err)
			break
		}
		fresh = append(fresh, result.Items...)
		cursor = result.NextCursor
		if cursor == "" {
			break
		}
	}

	cached, _ := s.notifications.Load(ctx, PartitionAll)
	merged := MergeNotifications(fresh, cached)

	s.notifications.Save(PartitionAll, merged)
	s.notifications.Save(PartitionPriority, PriorityNotifications(merged))

	s.logger.Info("notifications synced", "fetched", len(fresh), "total", len(merged))
	return merged, nil
}

// CachedNotifications returns a partition's cached notifications, newest first.
func (s *SkeinService) CachedNotifications(ctx context.Context, partition Partition) ([]model.Notification, bool) {
	return s.notifications.Load(ctx, partition)
}

// Threads groups reply notifications against the posts resident right now.
// Call it again after posts arrive to pick up better roots.
func (s *SkeinService) Threads(notifications []model.Notification) []*ConversationThread {
	return GroupThreads(notifications, s.posts.Lookup())
}

// ThreadTree assembles the reply tree of thread.
func (s *SkeinService) ThreadTree(thread *ConversationThread) *ThreadNode {
	return BuildThreadTree(thread, s.posts.Lookup())
}

// ResolvePosts fetches every post the notifications reference and blocks
// until done or ctx is cancelled.
func (s *SkeinService) ResolvePosts(ctx context.Context, notifications []model.Notification, opts FetchOptions) *FetchResult {
	return s.fetcher.Resolve(ctx, ReferencedURIs(notifications), opts)
}

// StartResolvePosts is ResolvePosts in the background.
func (s *SkeinService) StartResolvePosts(ctx context.Context, notifications []model.Notification, opts FetchOptions) *FetchJob {
	return s.fetcher.Start(ctx, ReferencedURIs(notifications), opts)
}

// StorageReport measures every cache tier.
func (s *SkeinService) StorageReport(ctx context.Context) (*StorageReport, error) {
	return s.monitor.Report(ctx)
}

// Cleanup removes entries older than daysToKeep days from every tier.
func (s *SkeinService) Cleanup(ctx context.Context, daysToKeep int) (*CleanupResult, error) {
	return s.monitor.Cleanup(ctx, daysToKeep)
}

// ClearCaches wipes the selected caches in both tiers.
func (s *SkeinService) ClearCaches(ctx context.Context, posts, notifications bool) error {
	var errs []error
	if posts {
		if err := s.posts.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clearing posts: %w", err))
		}
	}
	if notifications {
		for _, p := range []Partition{PartitionPriority, PartitionAll} {
			if err := s.notifications.Clear(ctx, p); err != nil {
				errs = append(errs, fmt.Errorf("clearing %s notifications: %w", p, err))
			}
		}
	}
	return errors.Join(errs...)
}

// MergeNotifications combines lists, keeping the first occurrence of each
// uri+reason identity, and orders the result newest first.
func MergeNotifications(lists ...[]model.Notification) []model.Notification {
	seen := make(map[string]bool)
	var merged []model.Notification
	for _, list := range lists {
		for _, n := range list {
			key := n.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, n)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].IndexedAt.After(merged[j].IndexedAt)
	})
	return merged
}

// IsPriority reports whether a notification belongs to the high-signal
// subset: replies, mentions and quotes.
func IsPriority(n model.Notification) bool {
	switch n.Reason {
	case model.ReasonReply, model.ReasonMention, model.ReasonQuote:
		return true
	}
	return false
}

// PriorityNotifications filters notifications down to the priority subset.
func PriorityNotifications(notifications []model.Notification) []model.Notification {
	var out []model.Notification
	for _, n := range notifications {
		if IsPriority(n) {
			out = append(out, n)
		}
	}
	return out
}
