package skein

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so expiry and fetch pacing are deterministic in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// UnixMilli converts t to the millisecond epoch used in persisted envelopes.
func UnixMilli(t time.Time) int64 { return t.UnixMilli() }

// FromUnixMilli is the inverse of UnixMilli.
func FromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms) }
