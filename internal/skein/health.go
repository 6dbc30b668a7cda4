package skein

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSoftCap is the byte budget storage health is measured against.
const DefaultSoftCap int64 = 100 << 20

// HealthBand classifies storage usage against the soft cap.
type HealthBand string

const (
	BandHealthy  HealthBand = "healthy"
	BandWarning  HealthBand = "warning"
	BandCritical HealthBand = "critical"
)

const (
	warningPercent  = 80.0
	criticalPercent = 95.0
)

// ClassifyUsage returns the band for used bytes out of softCap.
func ClassifyUsage(used, softCap int64) HealthBand {
	pct := percentOf(used, softCap)
	switch {
	case pct >= criticalPercent:
		return BandCritical
	case pct >= warningPercent:
		return BandWarning
	default:
		return BandHealthy
	}
}

func percentOf(used, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// TierUsage is the measured footprint of one storage tier.
type TierUsage struct {
	Name  string
	Bytes int64
	Keys  int
	// Capacity is the tier's own hard cap, or 0 when it has none.
	Capacity int64
	// Error is set when the tier could not be measured.
	Error string
}

// StorageReport is a point-in-time health snapshot across all tiers.
type StorageReport struct {
	Tiers           []TierUsage
	TotalBytes      int64
	SoftCap         int64
	Percent         float64
	Band            HealthBand
	Recommendations []string
	CheckedAt       time.Time
}

// CleanupResult summarises a Cleanup pass.
type CleanupResult struct {
	Scanned    int
	Deleted    int
	FreedBytes int64
	Failed     int
}

type capacityReporter interface {
	Capacity() int64
}

// StorageMonitor measures and prunes the cache tiers. It never runs on its
// own; callers trigger Report and Cleanup explicitly.
type StorageMonitor struct {
	tiers   []StorageTier
	softCap int64
	temp    *KeyMatcher
	clock   Clock
	logger  Logger
}

// NewStorageMonitor creates a monitor over tiers. A non-positive softCap
// selects DefaultSoftCap; nil tempPatterns selects DefaultTempPatterns.
func NewStorageMonitor(tiers []StorageTier, softCap int64, tempPatterns []string, clock Clock, logger Logger) *StorageMonitor {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	if tempPatterns == nil {
		tempPatterns = DefaultTempPatterns
	}
	return &StorageMonitor{
		tiers:   tiers,
		softCap: softCap,
		temp:    NewKeyMatcher(tempPatterns),
		clock:   clock,
		logger:  logger,
	}
}

// Report measures every tier. A tier that cannot be measured is reported
// with its error and counted as empty.
func (m *StorageMonitor) Report(ctx context.Context) (*StorageReport, error) {
	report := &StorageReport{SoftCap: m.softCap, CheckedAt: m.clock.Now()}

	for _, tier := range m.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		usage := TierUsage{Name: tier.Name()}
		if c, ok := tier.(capacityReporter); ok {
			usage.Capacity = c.Capacity()
		}
		bytes, err := tier.Usage(ctx)
		if err != nil {
			m.logger.Warn("measuring storage tier", "tier", tier.Name(), "error", err)
			usage.Error = err.Error()
			report.Tiers = append(report.Tiers, usage)
			continue
		}
		keys, err := tier.Keys(ctx)
		if err != nil {
			m.logger.Warn("listing storage tier", "tier", tier.Name(), "error", err)
			usage.Error = err.Error()
		}
		usage.Bytes = bytes
		usage.Keys = len(keys)
		report.TotalBytes += bytes
		report.Tiers = append(report.Tiers, usage)
	}

	report.Percent = percentOf(report.TotalBytes, m.softCap)
	report.Band = ClassifyUsage(report.TotalBytes, m.softCap)
	report.Recommendations = recommendations(report)
	return report, nil
}

func recommendations(r *StorageReport) []string {
	var recs []string
	switch r.Band {
	case BandCritical:
		recs = append(recs,
			"Storage is nearly full: clear cached posts and notifications, or run cleanup keeping fewer days.")
	case BandWarning:
		recs = append(recs,
			"Storage is filling up: run cleanup to remove entries older than a week.")
	}
	for _, t := range r.Tiers {
		if t.Error != "" {
			recs = append(recs, fmt.Sprintf("Tier %q could not be measured: %s.", t.Name, t.Error))
			continue
		}
		if t.Capacity > 0 && percentOf(t.Bytes, t.Capacity) >= warningPercent {
			recs = append(recs, fmt.Sprintf(
				"Tier %q is %.0f%% of its capacity; fallback writes may start evicting older entries.",
				t.Name, percentOf(t.Bytes, t.Capacity)))
		}
	}
	return recs
}

// Cleanup deletes entries whose embedded write timestamp is older than
// daysToKeep days. Chunks go with their header. Entries without a readable
// timestamp are kept unless their key matches a temporary pattern; chunks
// whose header is gone are removed as well.
func (m *StorageMonitor) Cleanup(ctx context.Context, daysToKeep int) (*CleanupResult, error) {
	if daysToKeep < 0 {
		return nil, fmt.Errorf("days to keep must not be negative: %d", daysToKeep)
	}
	cutoff := m.clock.Now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	result := &CleanupResult{}

	for _, tier := range m.tiers {
		if err := m.cleanupTier(ctx, tier, cutoff, result); err != nil {
			return result, fmt.Errorf("cleaning tier %s: %w", tier.Name(), err)
		}
	}

	m.logger.Info("storage cleanup finished",
		"days_to_keep", daysToKeep,
		"scanned", result.Scanned,
		"deleted", result.Deleted,
		"freed_bytes", result.FreedBytes,
		"failed", result.Failed)
	return result, nil
}

func (m *StorageMonitor) cleanupTier(ctx context.Context, tier StorageTier, cutoff time.Time, result *CleanupResult) error {
	keys, err := tier.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	present := make(map[string]bool, len(keys))
	chunks := make(map[string][]string)
	var headers []string
	for _, key := range keys {
		present[key] = true
		if owner, ok := ChunkOwner(key); ok {
			chunks[owner] = append(chunks[owner], key)
			continue
		}
		headers = append(headers, key)
	}

	for _, key := range headers {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Scanned++
		value, ok, err := tier.Get(ctx, key)
		if errors.Is(err, ErrCorruptEntry) {
			m.logger.Warn("removing unreadable entry", "tier", tier.Name(), "key", key, "error", err)
			m.remove(ctx, tier, key, int64(len(key)), result)
			for _, chunk := range chunks[key] {
				m.removeChunk(ctx, tier, chunk, result)
			}
			continue
		}
		if err != nil {
			m.logger.Warn("reading entry during cleanup", "tier", tier.Name(), "key", key, "error", err)
			result.Failed++
			continue
		}
		if !ok {
			continue
		}

		stamp, stamped := EntryTimestamp(value)
		switch {
		case stamped && stamp.Before(cutoff):
		case !stamped && m.temp.Match(key):
		default:
			continue
		}

		m.remove(ctx, tier, key, int64(len(key)+len(value)), result)
		for _, chunk := range chunks[key] {
			m.removeChunk(ctx, tier, chunk, result)
		}
	}

	for owner, orphaned := range chunks {
		if present[owner] {
			continue
		}
		for _, chunk := range orphaned {
			result.Scanned++
			m.removeChunk(ctx, tier, chunk, result)
		}
	}
	return nil
}

func (m *StorageMonitor) removeChunk(ctx context.Context, tier StorageTier, key string, result *CleanupResult) {
	value, ok, err := tier.Get(ctx, key)
	if err != nil || !ok {
		value = nil
	}
	m.remove(ctx, tier, key, int64(len(key)+len(value)), result)
}

func (m *StorageMonitor) remove(ctx context.Context, tier StorageTier, key string, size int64, result *CleanupResult) {
	if err := tier.Delete(ctx, key); err != nil {
		m.logger.Warn("deleting entry during cleanup", "tier", tier.Name(), "key", key, "error", err)
		result.Failed++
		return
	}
	m.logger.Debug("deleted entry", "tier", tier.Name(), "key", key)
	result.Deleted++
	result.FreedBytes += size
}
