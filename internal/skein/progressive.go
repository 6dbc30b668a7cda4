package skein

import (
	"context"
	"sync"
	"time"

	"skein-go/internal/model"
)

// FetchOptions shapes a progressive fetch. Zero fields fall back to
// DefaultFetchOptions.
type FetchOptions struct {
	// InitialSlice is how many of the highest-priority ids are resolved
	// before any background round is scheduled.
	InitialSlice int

	// EarlyRounds background rounds use EarlyBatch ids and EarlyDelay;
	// later rounds use LateBatch and LateDelay.
	EarlyRounds int
	EarlyBatch  int
	EarlyDelay  time.Duration
	LateBatch   int
	LateDelay   time.Duration

	// MaxAttempts bounds how often an id is retried after failed batches.
	MaxAttempts int

	// Progress, when set, is called with (resolved, total) after the cache
	// check and after every batch lands.
	Progress func(fetched, total int)
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		InitialSlice: 175,
		EarlyRounds:  2,
		EarlyBatch:   100,
		EarlyDelay:   500 * time.Millisecond,
		LateBatch:    50,
		LateDelay:    2 * time.Second,
		MaxAttempts:  3,
	}
}

func (o FetchOptions) withDefaults() FetchOptions {
	d := DefaultFetchOptions()
	if o.InitialSlice <= 0 {
		o.InitialSlice = d.InitialSlice
	}
	if o.EarlyRounds < 0 {
		o.EarlyRounds = 0
	}
	if o.EarlyBatch <= 0 {
		o.EarlyBatch = d.EarlyBatch
	}
	if o.EarlyDelay < 0 {
		o.EarlyDelay = 0
	}
	if o.LateBatch <= 0 {
		o.LateBatch = d.LateBatch
	}
	if o.LateDelay < 0 {
		o.LateDelay = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	return o
}

// roundShape returns the id budget and lead-in delay of background round n.
func (o FetchOptions) roundShape(n int) (int, time.Duration) {
	if n < o.EarlyRounds {
		return o.EarlyBatch, o.EarlyDelay
	}
	return o.LateBatch, o.LateDelay
}

// FetchResult summarises a progressive fetch.
type FetchResult struct {
	// Total counts primary targets plus discovered root targets.
	Total        int
	Resolved     int
	FromCache    int
	Fetched      int
	Abandoned    int
	RootsFetched int
	Batches      int
	Cancelled    bool

	// Unresolved lists targets that were neither cached nor fetched, in
	// priority order.
	Unresolved []string
}

// ReferencedURIs returns the post URIs a notification batch refers to, in
// feed order without duplicates. Replies, mentions and quotes reference their
// own URI; likes and reposts reference their subject; follows reference none.
func ReferencedURIs(notifications []model.Notification) []string {
	seen := make(map[string]bool)
	var uris []string
	for _, n := range notifications {
		var uri string
		switch n.Reason {
		case model.ReasonReply, model.ReasonMention, model.ReasonQuote:
			uri = n.URI
		case model.ReasonLike, model.ReasonRepost:
			uri = n.ReasonSubject
		}
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		uris = append(uris, uri)
	}
	return uris
}

// ProgressiveFetcher resolves large id sets into posts over several rounds,
// cache first, with every remote batch routed through the shared gateway.
type ProgressiveFetcher struct {
	cache   PostCache
	remote  PostFetcher
	gateway FetchGateway
	clock   Clock
	logger  Logger
	idgen   IDGenerator
}

func NewProgressiveFetcher(cache PostCache, remote PostFetcher, gateway FetchGateway, clock Clock, logger Logger, idgen IDGenerator) *ProgressiveFetcher {
	return &ProgressiveFetcher{
		cache:   cache,
		remote:  remote,
		gateway: gateway,
		clock:   clock,
		logger:  logger,
		idgen:   idgen,
	}
}

// fetchRun is the mutable state of one Resolve call. It is owned by a single
// goroutine.
type fetchRun struct {
	opts      FetchOptions
	targets   []string
	known     map[string]bool
	isRoot    map[string]bool
	resolved  map[string]bool
	attempts  map[string]int
	abandoned map[string]bool
	roots     []string
	result    FetchResult
}

// Resolve runs a progressive fetch to completion or cancellation. It never
// fails: ids that cannot be resolved are reported in the result.
func (f *ProgressiveFetcher) Resolve(ctx context.Context, targets []string, opts FetchOptions) *FetchResult {
	run := &fetchRun{
		opts:      opts.withDefaults(),
		known:     make(map[string]bool),
		isRoot:    make(map[string]bool),
		resolved:  make(map[string]bool),
		attempts:  make(map[string]int),
		abandoned: make(map[string]bool),
	}
	for _, uri := range targets {
		if uri == "" || run.known[uri] {
			continue
		}
		run.known[uri] = true
		run.targets = append(run.targets, uri)
	}
	run.result.Total = len(run.targets)
	f.report(run)

	initial := run.targets[:min(run.opts.InitialSlice, len(run.targets))]
	remainder := run.targets[len(initial):]

	retry := f.round(ctx, run, initial)
	queue := append(retry, remainder...)

	if !run.result.Cancelled {
		f.drain(ctx, run, &queue, 0)
	}
	if !run.result.Cancelled {
		// Roots discovered while draining the secondary queue land back in
		// run.roots, so drain until it stays empty.
		for len(run.roots) > 0 && !run.result.Cancelled {
			rootQueue := run.roots
			run.roots = nil
			f.drain(ctx, run, &rootQueue, run.opts.EarlyRounds)
		}
	}

	for _, uri := range run.targets {
		if !run.resolved[uri] {
			run.result.Unresolved = append(run.result.Unresolved, uri)
		}
	}
	run.result.Resolved = len(run.resolved)
	run.result.Abandoned = len(run.abandoned)

	f.logger.Info("progressive fetch finished",
		"total", run.result.Total,
		"resolved", run.result.Resolved,
		"from_cache", run.result.FromCache,
		"fetched", run.result.Fetched,
		"batches", run.result.Batches,
		"abandoned", run.result.Abandoned,
		"cancelled", run.result.Cancelled)
	return &run.result
}

// drain schedules background rounds over queue until it is empty or ctx is
// done. firstRound selects the starting round shape.
func (f *ProgressiveFetcher) drain(ctx context.Context, run *fetchRun, queue *[]string, firstRound int) {
	for n := firstRound; len(*queue) > 0; n++ {
		size, delay := run.opts.roundShape(n)
		if err := f.clock.Sleep(ctx, delay); err != nil {
			run.result.Cancelled = true
			return
		}
		take := (*queue)[:min(size, len(*queue))]
		*queue = (*queue)[len(take):]
		retry := f.round(ctx, run, take)
		*queue = append(*queue, retry...)
		if run.result.Cancelled {
			return
		}
	}
}

// round resolves ids against the cache, then fetches what is still missing
// in batches of at most MaxBatchSize. It returns the ids to retry later.
func (f *ProgressiveFetcher) round(ctx context.Context, run *fetchRun, ids []string) []string {
	var pending []string
	for _, uri := range ids {
		if !run.resolved[uri] && !run.abandoned[uri] {
			pending = append(pending, uri)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	cached, missing := f.cache.Get(ctx, pending)
	for i := range cached {
		post := &cached[i]
		if !run.resolved[post.URI] {
			run.resolved[post.URI] = true
			run.result.FromCache++
		}
		f.discoverRoot(run, post)
	}
	f.report(run)

	var retry []string
	batches := ChunkURIs(missing, MaxBatchSize)
	for i, batch := range batches {
		if ctx.Err() != nil {
			run.result.Cancelled = true
			for _, rest := range batches[i:] {
				retry = append(retry, rest...)
			}
			return retry
		}
		retry = append(retry, f.fetchBatch(ctx, run, batch)...)
	}
	return retry
}

// fetchBatch runs one remote call. Once the gateway admits the call it runs
// to completion even if ctx is cancelled, and whatever it returns is cached.
func (f *ProgressiveFetcher) fetchBatch(ctx context.Context, run *fetchRun, batch []string) []string {
	var posts []model.Post
	started := false
	err := f.gateway.Run(ctx, func(ctx context.Context) error {
		started = true
		var err error
		posts, err = f.remote.FetchPosts(context.WithoutCancel(ctx), batch)
		return err
	})
	if !started {
		// The gateway gave up waiting; the batch never reached the remote.
		run.result.Cancelled = true
		return batch
	}
	run.result.Batches++

	if err != nil {
		f.logger.Warn("post batch failed", "size", len(batch), "error", err)
		var retry []string
		for _, uri := range batch {
			run.attempts[uri]++
			if run.attempts[uri] >= run.opts.MaxAttempts {
				run.abandoned[uri] = true
				continue
			}
			retry = append(retry, uri)
		}
		return retry
	}

	if len(posts) > 0 {
		f.cache.Put(posts)
	}

	for i := range posts {
		post := &posts[i]
		if run.known[post.URI] && !run.resolved[post.URI] {
			run.resolved[post.URI] = true
			run.result.Fetched++
			if run.isRoot[post.URI] {
				run.result.RootsFetched++
			}
		}
		f.discoverRoot(run, post)
	}
	for _, uri := range batch {
		if !run.resolved[uri] {
			f.logger.Debug("post not returned by remote", "uri", uri)
			run.abandoned[uri] = true
		}
	}
	f.report(run)
	return nil
}

// discoverRoot queues the explicit root of post for the secondary pass.
func (f *ProgressiveFetcher) discoverRoot(run *fetchRun, post *model.Post) {
	root := post.RootURI()
	if root == "" || run.known[root] {
		return
	}
	run.known[root] = true
	run.isRoot[root] = true
	run.targets = append(run.targets, root)
	run.roots = append(run.roots, root)
	run.result.Total++
}

func (f *ProgressiveFetcher) report(run *fetchRun) {
	if run.opts.Progress != nil {
		run.opts.Progress(len(run.resolved), run.result.Total)
	}
}

// FetchJob is a progressive fetch running in the background.
type FetchJob struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	fetched int
	total   int
	result  *FetchResult
}

// Start runs Resolve in a new goroutine. Cancelling the job stops further
// batches; a batch already admitted by the gateway still completes and is cached.
func (f *ProgressiveFetcher) Start(ctx context.Context, targets []string, opts FetchOptions) *FetchJob {
	ctx, cancel := context.WithCancel(ctx)
	job := &FetchJob{
		ID:     f.idgen.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	progress := opts.Progress
	opts.Progress = func(fetched, total int) {
		job.mu.Lock()
		job.fetched, job.total = fetched, total
		job.mu.Unlock()
		if progress != nil {
			progress(fetched, total)
		}
	}

	go func() {
		defer close(job.done)
		defer cancel()
		result := f.Resolve(ctx, targets, opts)
		job.mu.Lock()
		job.result = result
		job.mu.Unlock()
	}()
	return job
}

// Cancel stops scheduling further batches.
func (j *FetchJob) Cancel() { j.cancel() }

// Done is closed once the job has finished.
func (j *FetchJob) Done() <-chan struct{} { return j.done }

// Progress returns the latest (resolved, total) counts.
func (j *FetchJob) Progress() (fetched, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fetched, j.total
}

// Result returns the final result, or nil while the job is running.
func (j *FetchJob) Result() *FetchResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Wait blocks until the job finishes or ctx is done.
func (j *FetchJob) Wait(ctx context.Context) (*FetchResult, error) {
	select {
	case <-j.done:
		return j.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
