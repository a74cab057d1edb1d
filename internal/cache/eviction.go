package cache

import (
	"fmt"
	"strings"
	"time"
)

// EvictionPolicy decides which entries a sweep removes.
type EvictionPolicy interface {
	Evict(info EntryInfo, now time.Time) bool
}

// NeverEvict keeps every entry until it is overwritten.
type NeverEvict struct{}

func (NeverEvict) Evict(EntryInfo, time.Time) bool { return false }

// MaxAge evicts entries stored longer ago than the duration.
type MaxAge time.Duration

func (m MaxAge) Evict(info EntryInfo, now time.Time) bool {
	if m <= 0 || info.StoredAt.IsZero() {
		return false
	}
	return now.Sub(info.StoredAt) > time.Duration(m)
}

// PolicyFromConfig maps a configured policy name to an EvictionPolicy.
func PolicyFromConfig(name string, maxAge time.Duration) (EvictionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "never", "none":
		return NeverEvict{}, nil
	case "maxage", "max-age", "max_age":
		if maxAge <= 0 {
			return nil, fmt.Errorf("cache: maxAge policy needs a positive age")
		}
		return MaxAge(maxAge), nil
	default:
		return nil, fmt.Errorf("cache: unknown eviction policy %q", name)
	}
}
