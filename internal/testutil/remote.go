package testutil

import (
	"context"
	"fmt"
	"sync"

	"skein-go/internal/model"
	"skein-go/internal/skein"
)

// FakeRemote is an in-memory remote service. It serves posts it has been
// given, records every batch it is asked for, and can be scripted to fail.
type FakeRemote struct {
	mu sync.Mutex

	posts     map[string]model.Post
	batches   [][]string
	failures  []error
	failURIs  map[string]error
	pages     []skein.NotificationPage
	pageErrs  map[int]error
	pageCalls int

	// OnFetch, when set, is called with each batch before it is served.
	OnFetch func(batch []string)
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		posts:    make(map[string]model.Post),
		failURIs: make(map[string]error),
		pageErrs: make(map[int]error),
	}
}

// AddPosts makes posts available to FetchPosts.
func (r *FakeRemote) AddPosts(posts ...model.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range posts {
		r.posts[p.URI] = p
	}
}

// FailNext makes the next len(errs) FetchPosts calls fail with errs in order.
func (r *FakeRemote) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, errs...)
}

// FailURI makes every batch containing uri fail with err.
func (r *FakeRemote) FailURI(uri string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failURIs[uri] = err
}

// SetPages scripts the notification feed. Each page's NextCursor is
// rewritten to "page-<n>" so pages chain in order.
func (r *FakeRemote) SetPages(pages ...[]model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = nil
	for i, items := range pages {
		page := skein.NotificationPage{Items: items}
		if i < len(pages)-1 {
			page.NextCursor = fmt.Sprintf("page-%d", i+1)
		}
		r.pages = append(r.pages, page)
	}
}

// FailPage makes the request for page index i (0-based) fail with err.
func (r *FakeRemote) FailPage(i int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageErrs[i] = err
}

func (r *FakeRemote) FetchPosts(ctx context.Context, uris []string) ([]model.Post, error) {
	if len(uris) > skein.MaxBatchSize {
		return nil, fmt.Errorf("fetching %d posts: %w", len(uris), skein.ErrBatchTooLarge)
	}

	r.mu.Lock()
	batch := append([]string(nil), uris...)
	r.batches = append(r.batches, batch)
	hook := r.OnFetch
	r.mu.Unlock()

	if hook != nil {
		hook(batch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return nil, err
	}
	for _, uri := range uris {
		if err, ok := r.failURIs[uri]; ok {
			return nil, err
		}
	}

	// Reverse order: callers must not rely on it matching the request.
	var out []model.Post
	for i := len(uris) - 1; i >= 0; i-- {
		if p, ok := r.posts[uris[i]]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *FakeRemote) FetchNotifications(ctx context.Context, cursor string) (*skein.NotificationPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageCalls++

	index := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "page-%d", &index); err != nil {
			return nil, fmt.Errorf("unknown cursor %q", cursor)
		}
	}
	if err, ok := r.pageErrs[index]; ok {
		return nil, err
	}
	if index >= len(r.pages) {
		return &skein.NotificationPage{}, nil
	}
	page := r.pages[index]
	page.Items = append([]model.Notification(nil), page.Items...)
	return &page, nil
}

// Batches returns every batch FetchPosts was called with, in call order.
func (r *FakeRemote) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	copy(out, r.batches)
	return out
}

// Requested returns how many times uri was asked for.
func (r *FakeRemote) Requested(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		for _, u := range b {
			if u == uri {
				n++
			}
		}
	}
	return n
}

// PageCalls returns how many notification pages were requested.
func (r *FakeRemote) PageCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageCalls
}

var (
	_ skein.PostFetcher         = (*FakeRemote)(nil)
	_ skein.NotificationFetcher = (*FakeRemote)(nil)
)

// CountingGateway admits every call immediately and counts them.
type CountingGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *CountingGateway) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return fn(ctx)
}

// Calls returns how many calls were admitted.
func (g *CountingGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var _ skein.FetchGateway = (*CountingGateway)(nil)
