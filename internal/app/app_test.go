package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skein-go/internal/config"
	"skein-go/internal/model"
	"skein-go/internal/skein"
	"skein-go/internal/testutil"
)

// fakeService serves a two-page notification feed and the posts it references.
func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]any{
		"": map[string]any{
			"cursor": "next",
			"notifications": []model.Notification{
				testutil.Reply("at://bob/post/2", "bob", testutil.At(2)),
			},
		},
		"next": map[string]any{
			"notifications": []model.Notification{
				testutil.Reply("at://carol/post/1", "carol", testutil.At(1)),
				testutil.Like("at://dave/like/1", "at://me/post/root", "dave", testutil.At(0)),
			},
		},
	}
	posts := map[string]model.Post{
		"at://me/post/root": testutil.Post("at://me/post/root", "", "", "me", testutil.At(-10)),
		"at://carol/post/1": testutil.Post("at://carol/post/1", "at://me/post/root", "at://me/post/root", "carol", testutil.At(1)),
		"at://bob/post/2":   testutil.Post("at://bob/post/2", "at://me/post/root", "at://carol/post/1", "bob", testutil.At(2)),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/app.bsky.notification.listNotifications":
			_ = json.NewEncoder(w).Encode(pages[r.URL.Query().Get("cursor")])
		case "/xrpc/app.bsky.feed.getPosts":
			var out []model.Post
			for _, uri := range r.URL.Query()["uris"] {
				if p, ok := posts[uri]; ok {
					out = append(out, p)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"posts": out})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConfig(t *testing.T, serviceURL string) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Remote.ServiceURL = serviceURL
	cfg.Durable = config.DurableConfig{Type: "memory"}
	cfg.Fast.SnapshotPath = ""
	cfg.Gateway.Requests = 100
	cfg.Fetch.EarlyDelay = config.D(time.Millisecond)
	cfg.Fetch.LateDelay = config.D(time.Millisecond)
	cfg.LogLevel = "error"
	return cfg
}

func TestSkeinApp_SyncAndThreads(t *testing.T) {
	srv := fakeService(t)
	a, err := NewSkeinApp(context.Background(), newTestConfig(t, srv.URL), "test")
	if err != nil {
		t.Fatalf("NewSkeinApp() error = %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	if _, _, err := a.Threads(ctx, false, nil); err == nil {
		t.Error("Threads() before sync error = nil, want error")
	}

	notifications, err := a.Sync(ctx, 5)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(notifications) != 3 {
		t.Fatalf("Sync() = %d notifications, want 3", len(notifications))
	}

	var lastFetched, lastTotal int
	threads, result, err := a.Threads(ctx, true, func(fetched, total int) {
		lastFetched, lastTotal = fetched, total
	})
	if err != nil {
		t.Fatalf("Threads() error = %v", err)
	}
	if result == nil || result.Resolved != 3 {
		t.Fatalf("fetch result = %+v, want 3 resolved", result)
	}
	if lastFetched != lastTotal || lastTotal != 3 {
		t.Errorf("last progress = %d/%d, want 3/3", lastFetched, lastTotal)
	}
	if len(threads) != 1 || threads[0].RootURI != "at://me/post/root" {
		t.Fatalf("threads = %d, want one rooted at the original post", len(threads))
	}

	tree := a.ThreadTree(threads[0])
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 1 {
		t.Errorf("tree shape: root has %d children", len(tree.Children))
	}
}

func TestSkeinApp_HealthCleanupClear(t *testing.T) {
	srv := fakeService(t)
	a, err := NewSkeinApp(context.Background(), newTestConfig(t, srv.URL), "test")
	if err != nil {
		t.Fatalf("NewSkeinApp() error = %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Sync(ctx, 5); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := a.notifications.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	report, err := a.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if len(report.Tiers) != 2 || report.TotalBytes == 0 {
		t.Errorf("report = %+v, want two tiers with data", report)
	}
	if report.Band != skein.BandHealthy {
		t.Errorf("Band = %q, want healthy", report.Band)
	}

	result, err := a.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Cleanup() deleted %d fresh entries", result.Deleted)
	}

	if err := a.Clear(ctx, false, true); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, _, err := a.Threads(ctx, false, nil); err == nil {
		t.Error("Threads() after clear error = nil, want error")
	}
}

func TestSkeinApp_Encrypted(t *testing.T) {
	srv := fakeService(t)
	cfg := newTestConfig(t, srv.URL)
	cfg.Encryption.Type = "test"
	t.Setenv(PassphraseEnv, "secret")

	a, err := NewSkeinApp(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("NewSkeinApp() error = %v", err)
	}
	defer a.Close()

	if _, err := a.Sync(context.Background(), 1); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := a.notifications.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	keys, err := a.durable.Keys(context.Background())
	if err != nil || len(keys) == 0 {
		t.Fatalf("Keys() = %v, %v", keys, err)
	}
}

func TestNewSkeinApp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:    "unknown durable type",
			mutate:  func(cfg *config.Config) { cfg.Durable.Type = "floppy" },
			wantErr: "creating durable store",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *config.Config) { cfg.LogLevel = "loud" },
			wantErr: "parsing log level",
		},
		{
			name:    "bad gateway",
			mutate:  func(cfg *config.Config) { cfg.Gateway.Requests = 0 },
			wantErr: "creating fetch gateway",
		},
		{
			name: "age keys missing",
			mutate: func(cfg *config.Config) {
				cfg.Encryption.Type = "age"
				cfg.Encryption.PublicKeyPath = filepath.Join(cfg.BaseDir, "none.pub")
				cfg.Encryption.PrivateKeyPath = filepath.Join(cfg.BaseDir, "none.key")
			},
			wantErr: "skein keys init",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t, "http://127.0.0.1:0")
			tt.mutate(cfg)

			a, err := NewSkeinApp(context.Background(), cfg, "test")
			if err == nil {
				a.Close()
				t.Fatal("NewSkeinApp() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewSkeinApp() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestInitKeys(t *testing.T) {
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "skein.pub"),
		PrivateKeyPath: filepath.Join(dir, "skein.key"),
	}

	if err := InitKeys(cfg, ""); err == nil {
		t.Error("InitKeys() with empty passphrase error = nil")
	}
	if err := InitKeys(cfg, "secret"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := InitKeys(cfg, "secret"); err == nil {
		t.Error("second InitKeys() error = nil, want already exists")
	}
	if err := InitKeys(config.EncryptionConfig{Type: "none"}, "secret"); err == nil {
		t.Error("InitKeys() with encryption disabled error = nil")
	}
}

func TestFetchOptionsFromConfig(t *testing.T) {
	cfg := config.NewConfig(t.TempDir())
	a := &SkeinApp{cfg: cfg}

	got := a.FetchOptions()
	want := skein.DefaultFetchOptions()
	if got.InitialSlice != want.InitialSlice || got.EarlyBatch != want.EarlyBatch ||
		got.LateBatch != want.LateBatch || got.EarlyDelay != want.EarlyDelay ||
		got.LateDelay != want.LateDelay || got.MaxAttempts != want.MaxAttempts ||
		got.EarlyRounds != want.EarlyRounds {
		t.Errorf("FetchOptions() = %+v, want defaults %+v", got, want)
	}
}

func TestReadPassphrase_FromEnv(t *testing.T) {
	t.Setenv(PassphraseEnv, "from-env")
	got, err := ReadPassphrase("prompt: ")
	if err != nil || got != "from-env" {
		t.Errorf("ReadPassphrase() = (%q, %v), want from-env", got, err)
	}
}
