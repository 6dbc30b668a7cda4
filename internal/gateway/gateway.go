// Package gateway throttles remote batch calls against one shared quota.
package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"skein-go/internal/skein"
)

// Gateway is a token bucket holding Requests tokens, refilled evenly over
// Window. Every remote batch call from every consumer goes through the same
// Gateway; callers that find the bucket empty wait their turn.
type Gateway struct {
	limiter *rate.Limiter
	logger  skein.Logger
}

// New creates a gateway allowing requests calls per window.
func New(requests int, window time.Duration, logger skein.Logger) (*Gateway, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("gateway requests must be positive, got %d", requests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("gateway window must be positive, got %v", window)
	}
	interval := window / time.Duration(requests)
	if interval <= 0 {
		return nil, fmt.Errorf("gateway window %v is too short for %d requests", window, requests)
	}
	return &Gateway{
		limiter: rate.NewLimiter(rate.Every(interval), requests),
		logger:  skein.OrNop(logger),
	}, nil
}

// Run waits for a token, then calls fn. A ctx that ends while waiting
// returns ctx's error and fn is never called.
func (g *Gateway) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	r := g.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("gateway reservation refused")
	}
	if delay := r.Delay(); delay > 0 {
		g.logger.Debug("gateway throttling call", "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		r.Cancel()
		return err
	}
	return fn(ctx)
}

// Available reports how many calls could start right now without waiting.
func (g *Gateway) Available() int {
	return int(g.limiter.Tokens())
}

// Do runs fn through g and returns its result.
func Do[T any](ctx context.Context, g skein.FetchGateway, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Compile-time check that Gateway implements skein.FetchGateway.
var _ skein.FetchGateway = (*Gateway)(nil)
