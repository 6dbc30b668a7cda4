package skein_test

import (
	"context"
	"errors"
	"testing"

	"skein-go/internal/model"
	"skein-go/internal/skein"
	"skein-go/internal/testutil"
)

type serviceFixture struct {
	clock   *testutil.StubClock
	remote  *testutil.FakeRemote
	posts   skein.PostCache
	durable skein.DurableStore
	service *skein.SkeinService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := testutil.FixedClock()
	remote := testutil.NewFakeRemote()
	posts := testutil.NewTestPostStore(t, clock)
	notifications := testutil.NewTestNotificationStore(t, clock)
	durable := testutil.NewTestDurableStore()
	logger := skein.NewNopLogger()

	fetcher := skein.NewProgressiveFetcher(posts, remote, &testutil.CountingGateway{}, clock, logger, testutil.NewStubIDGenerator())
	monitor := skein.NewStorageMonitor([]skein.StorageTier{durable}, 0, nil, clock, logger)

	return &serviceFixture{
		clock:   clock,
		remote:  remote,
		posts:   posts,
		durable: durable,
		service: skein.NewSkeinService(posts, notifications, remote, fetcher, monitor, logger),
	}
}

func uris(notifications []model.Notification) []string {
	out := make([]string, len(notifications))
	for i, n := range notifications {
		out[i] = n.URI
	}
	return out
}

func TestSkeinService_SyncNotifications(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.remote.SetPages(
		[]model.Notification{
			testutil.Reply("r3", "bob", testutil.At(30)),
			testutil.Like("l2", "mine", "carol", testutil.At(20)),
		},
		[]model.Notification{
			testutil.Notification("m1", model.ReasonMention, "dave", testutil.At(10)),
		},
		[]model.Notification{
			testutil.Reply("r0", "erin", testutil.At(0)),
		},
	)

	got, err := f.service.SyncNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("SyncNotifications() error = %v", err)
	}
	if !equalStrings(uris(got), []string{"r3", "l2", "m1"}) {
		t.Errorf("synced = %v, want [r3 l2 m1]", uris(got))
	}
	if f.remote.PageCalls() != 2 {
		t.Errorf("PageCalls = %d, want 2", f.remote.PageCalls())
	}

	priority, ok := f.service.CachedNotifications(ctx, skein.PartitionPriority)
	if !ok || !equalStrings(uris(priority), []string{"r3", "m1"}) {
		t.Errorf("priority partition = %v (ok %v), want [r3 m1]", uris(priority), ok)
	}

	// A later sync merges over what is cached.
	f.remote.SetPages([]model.Notification{
		testutil.Reply("r4", "bob", testutil.At(40)),
		testutil.Reply("r3", "bob", testutil.At(30)),
	})
	got, err = f.service.SyncNotifications(ctx, 5)
	if err != nil {
		t.Fatalf("second SyncNotifications() error = %v", err)
	}
	if !equalStrings(uris(got), []string{"r4", "r3", "l2", "m1"}) {
		t.Errorf("merged = %v, want [r4 r3 l2 m1]", uris(got))
	}
}

func TestSkeinService_SyncNotificationsErrors(t *testing.T) {
	t.Run("first page failure is returned", func(t *testing.T) {
		f := newServiceFixture(t)
		f.remote.SetPages([]model.Notification{testutil.Reply("r1", "bob", testutil.At(1))})
		f.remote.FailPage(0, &skein.TransientFetchError{Op: "listNotifications", StatusCode: 502})

		if _, err := f.service.SyncNotifications(context.Background(), 3); !skein.IsTransient(err) {
			t.Errorf("SyncNotifications() error = %v, want transient", err)
		}
		if _, ok := f.service.CachedNotifications(context.Background(), skein.PartitionAll); ok {
			t.Error("cache written after failed sync")
		}
	})

	t.Run("later page failure keeps earlier pages", func(t *testing.T) {
		f := newServiceFixture(t)
		f.remote.SetPages(
			[]model.Notification{testutil.Reply("r2", "bob", testutil.At(2))},
			[]model.Notification{testutil.Reply("r1", "bob", testutil.At(1))},
		)
		f.remote.FailPage(1, errors.New("connection reset"))

		got, err := f.service.SyncNotifications(context.Background(), 3)
		if err != nil {
			t.Fatalf("SyncNotifications() error = %v", err)
		}
		if !equalStrings(uris(got), []string{"r2"}) {
			t.Errorf("synced = %v, want [r2]", uris(got))
		}
	})
}

func TestSkeinService_ThreadsRegroupAfterResolve(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.remote.SetPages([]model.Notification{
		testutil.Reply("r2", "carol", testutil.At(2)),
		testutil.Reply("r1", "bob", testutil.At(1)),
	})
	f.remote.AddPosts(
		testutil.Post("root", "", "", "me", testutil.At(0)),
		testutil.Post("r1", "root", "root", "bob", testutil.At(1)),
		testutil.Post("r2", "root", "r1", "carol", testutil.At(2)),
	)

	notifications, err := f.service.SyncNotifications(ctx, 1)
	if err != nil {
		t.Fatalf("SyncNotifications() error = %v", err)
	}

	if got := len(f.service.Threads(notifications)); got != 2 {
		t.Fatalf("threads before resolve = %d, want 2 provisional", got)
	}

	result := f.service.ResolvePosts(ctx, notifications, skein.FetchOptions{})
	if result.Resolved != 3 || result.RootsFetched != 1 {
		t.Errorf("ResolvePosts() = %+v, want 3 resolved incl. 1 root", result)
	}

	threads := f.service.Threads(notifications)
	if len(threads) != 1 {
		t.Fatalf("threads after resolve = %d, want 1", len(threads))
	}
	tree := f.service.ThreadTree(threads[0])
	if tree.IsPlaceholder() || tree.URI != "root" {
		t.Errorf("tree root = %q placeholder=%v", tree.URI, tree.IsPlaceholder())
	}
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 1 {
		t.Errorf("tree shape wrong: root has %d children", len(tree.Children))
	}
}

func TestSkeinService_StartResolvePosts(t *testing.T) {
	f := newServiceFixture(t)
	f.remote.AddPosts(testutil.Post("r1", "", "", "bob", testutil.At(1)))

	job := f.service.StartResolvePosts(context.Background(), []model.Notification{testutil.Reply("r1", "bob", testutil.At(1))}, skein.FetchOptions{})
	result, err := job.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Fetched != 1 {
		t.Errorf("Fetched = %d, want 1", result.Fetched)
	}
}

func TestSkeinService_ClearCaches(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.remote.SetPages([]model.Notification{testutil.Reply("r1", "bob", testutil.At(1))})
	if _, err := f.service.SyncNotifications(ctx, 1); err != nil {
		t.Fatalf("SyncNotifications() error = %v", err)
	}
	f.posts.Put([]model.Post{testutil.Post("r1", "", "", "bob", testutil.At(1))})

	if err := f.service.ClearCaches(ctx, true, false); err != nil {
		t.Fatalf("ClearCaches(posts) error = %v", err)
	}
	if _, missing := f.posts.Get(ctx, []string{"r1"}); len(missing) != 1 {
		t.Error("post still cached after clearing posts")
	}
	if _, ok := f.service.CachedNotifications(ctx, skein.PartitionAll); !ok {
		t.Error("notifications cleared although only posts were selected")
	}

	if err := f.service.ClearCaches(ctx, false, true); err != nil {
		t.Fatalf("ClearCaches(notifications) error = %v", err)
	}
	for _, p := range []skein.Partition{skein.PartitionAll, skein.PartitionPriority} {
		if _, ok := f.service.CachedNotifications(ctx, p); ok {
			t.Errorf("%s partition still cached", p)
		}
	}
}

func TestSkeinService_StorageReportAndCleanup(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if err := f.durable.Set(ctx, "scratch.tmp", []byte("x")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	report, err := f.service.StorageReport(ctx)
	if err != nil {
		t.Fatalf("StorageReport() error = %v", err)
	}
	if report.TotalBytes != int64(len("scratch.tmp")+1) {
		t.Errorf("TotalBytes = %d", report.TotalBytes)
	}

	result, err := f.service.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted)
	}
}

func TestMergeNotifications(t *testing.T) {
	a := testutil.Reply("x", "bob", testutil.At(1))
	aDup := a
	aDup.IsRead = true
	likeSameURI := testutil.Notification("x", model.ReasonLike, "bob", testutil.At(5))
	b := testutil.Reply("y", "carol", testutil.At(3))

	got := skein.MergeNotifications([]model.Notification{a, b}, []model.Notification{aDup, likeSameURI})
	if len(got) != 3 {
		t.Fatalf("MergeNotifications() = %d items, want 3", len(got))
	}
	if got[0].Reason != model.ReasonLike || got[1].URI != "y" || got[2].URI != "x" {
		t.Errorf("order = %v", uris(got))
	}
	if got[2].IsRead {
		t.Error("first occurrence not kept")
	}
}

func TestPriorityNotifications(t *testing.T) {
	all := []model.Notification{
		testutil.Reply("r", "a", testutil.At(1)),
		testutil.Notification("m", model.ReasonMention, "a", testutil.At(2)),
		testutil.Notification("q", model.ReasonQuote, "a", testutil.At(3)),
		testutil.Like("l", "s", "a", testutil.At(4)),
		testutil.Notification("f", model.ReasonFollow, "a", testutil.At(5)),
		testutil.Notification("rp", model.ReasonRepost, "a", testutil.At(6)),
	}
	if got := uris(skein.PriorityNotifications(all)); !equalStrings(got, []string{"r", "m", "q"}) {
		t.Errorf("PriorityNotifications() = %v, want [r m q]", got)
	}
}
