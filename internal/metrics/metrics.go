package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the proxy.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	cacheLookups   = make(map[lookupKey]int64)
	originFetches  = make(map[string]int64)
	degradations   = make(map[string]int64)
	cacheEvictions = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type lookupKey struct {
	Strategy string
	Outcome  string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordCacheLookup counts how a request was served: hit, miss, refresh
// (origin-first) or stale (origin-first fallback to the cache).
func RecordCacheLookup(strategy, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	cacheLookups[lookupKey{Strategy: strategy, Outcome: outcome}]++
}

// RecordOriginFetch counts origin document fetches by outcome.
func RecordOriginFetch(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	originFetches[outcome]++
}

// RecordDegradation counts recovered failures (manifest, shell, front matter).
func RecordDegradation(kind string) {
	mu.Lock()
	defer mu.Unlock()
	degradations[kind]++
}

// RecordEvictions adds entries removed by an eviction sweep.
func RecordEvictions(cacheName string, removed int64) {
	if removed <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	cacheEvictions[cacheName] += removed
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP mdview_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE mdview_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "mdview_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP mdview_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE mdview_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP mdview_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE mdview_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "mdview_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "mdview_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP mdview_cache_lookups_total Requests by strategy and cache outcome\n")
	b.WriteString("# TYPE mdview_cache_lookups_total counter\n")

	var lookupKeys []lookupKey
	for k := range cacheLookups {
		lookupKeys = append(lookupKeys, k)
	}
	sort.Slice(lookupKeys, func(i, j int) bool {
		if lookupKeys[i].Strategy != lookupKeys[j].Strategy {
			return lookupKeys[i].Strategy < lookupKeys[j].Strategy
		}
		return lookupKeys[i].Outcome < lookupKeys[j].Outcome
	})
	for _, k := range lookupKeys {
		fmt.Fprintf(&b, "mdview_cache_lookups_total{strategy=\"%s\",outcome=\"%s\"} %d\n",
			k.Strategy, k.Outcome, cacheLookups[k])
	}

	writeLabeled(&b, "mdview_origin_fetches_total", "Origin document fetches by outcome", "outcome", originFetches)
	writeLabeled(&b, "mdview_degradations_total", "Recovered enrichment failures by kind", "kind", degradations)
	writeLabeled(&b, "mdview_cache_evictions_total", "Entries removed by eviction sweeps", "cache", cacheEvictions)

	return b.String()
}

func writeLabeled(b *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
