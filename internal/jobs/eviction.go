package jobs

import (
	"context"
	"log/slog"
	"time"

	"mdview/internal/cache"
	"mdview/internal/metrics"
)

// EvictionStats captures the number of entries removed by one sweep.
type EvictionStats struct {
	Removed map[string]int64 `json:"removed"`
	Failed  map[string]error `json:"-"`
}

// Total is the number of entries removed across all caches.
func (s EvictionStats) Total() int64 {
	var n int64
	for _, v := range s.Removed {
		n += v
	}
	return n
}

// SweepCaches applies policy to every handle so that caches do not grow
// without bound. A failing cache does not stop the others.
func SweepCaches(ctx context.Context, handles []cache.Handle, policy cache.EvictionPolicy, now time.Time, logger *slog.Logger) EvictionStats {
	if logger == nil {
		logger = slog.Default()
	}
	stats := EvictionStats{Removed: make(map[string]int64), Failed: make(map[string]error)}

	for _, h := range handles {
		if h == nil {
			continue
		}
		n, err := h.Sweep(ctx, policy, now)
		if err != nil {
			stats.Failed[h.Name()] = err
			logger.Warn("cache sweep failed", "cache", h.Name(), "error", err)
			continue
		}
		stats.Removed[h.Name()] += n
		metrics.RecordEvictions(h.Name(), n)
	}
	return stats
}
