package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		requests int
		window   time.Duration
		wantErr  bool
	}{
		{name: "valid", requests: 30, window: time.Minute},
		{name: "zero requests", requests: 0, window: time.Minute, wantErr: true},
		{name: "zero window", requests: 10, window: 0, wantErr: true},
		{name: "window shorter than one nanosecond per request", requests: 10, window: 9 * time.Nanosecond, wantErr: true},
		{name: "one nanosecond per request", requests: 10, window: 10 * time.Nanosecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.requests, tt.window, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateway_BurstThenThrottle(t *testing.T) {
	g, err := New(2, 400*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := g.Run(ctx, noop); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst took %v, want immediate", elapsed)
	}

	if err := g.Run(ctx, noop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("third call after %v, want it throttled", elapsed)
	}
}

func TestGateway_CancelWhileWaiting(t *testing.T) {
	g, err := New(1, time.Hour, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := g.Run(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	called := false
	err = g.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if called {
		t.Error("fn was called after ctx ended")
	}
}

func TestGateway_PropagatesError(t *testing.T) {
	g, err := New(5, time.Second, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	boom := errors.New("boom")
	if err := g.Run(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	g, err := New(5, time.Second, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := Do(context.Background(), g, func(context.Context) (int, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
}

func TestGateway_SharedAcrossCallers(t *testing.T) {
	g, err := New(3, time.Hour, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Run(ctx, func(context.Context) error {
				calls.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("calls within window = %d, want 3", got)
	}
}
