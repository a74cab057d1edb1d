// Package jobs holds the background work of the proxy.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"mdview/internal/cache"
)

const defaultSweepInterval = time.Hour

// Janitor periodically evicts cache entries according to a policy.
type Janitor struct {
	handles  []cache.Handle
	policy   cache.EvictionPolicy
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor constructs a Janitor. A non-positive interval falls back to one
// hour; a nil policy never evicts.
func NewJanitor(policy cache.EvictionPolicy, interval time.Duration, logger *slog.Logger, handles ...cache.Handle) *Janitor {
	if policy == nil {
		policy = cache.NeverEvict{}
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		handles:  handles,
		policy:   policy,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether sweeping can remove anything.
func (j *Janitor) Enabled() bool {
	_, never := j.policy.(cache.NeverEvict)
	return !never && len(j.handles) > 0
}

// RunOnce performs a single sweep over all handles.
func (j *Janitor) RunOnce(ctx context.Context) EvictionStats {
	stats := SweepCaches(ctx, j.handles, j.policy, j.now(), j.logger)
	if total := stats.Total(); total > 0 {
		j.logger.Info("evicted cache entries", "removed", total)
	}
	return stats
}

// Start runs the sweep loop in the current goroutine until ctx is done.
// Callers typically run this in its own goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = j.RunOnce(ctx)
	}
}
