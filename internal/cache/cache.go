// Package cache stores complete responses keyed by absolute request URL.
// Entries live until overwritten or removed by an eviction policy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"mdview/internal/resource"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("cache: store closed")

// Store opens named caches.
type Store interface {
	// Open returns the named cache, creating it if absent. Opening the same
	// name twice returns handles over the same entries.
	Open(ctx context.Context, name string) (Handle, error)
	Ping(ctx context.Context) error
	Close() error
}

// Handle is one named cache. Put overwrites unconditionally; concurrent Put
// and Match on the same key are last-writer-wins and never expose a partially
// written entry.
type Handle interface {
	Name() string
	Match(ctx context.Context, key string) (*resource.Response, bool, error)
	Put(ctx context.Context, key string, resp *resource.Response) error
	Delete(ctx context.Context, key string) (bool, error)
	// Sweep removes every entry the policy selects and returns the count.
	Sweep(ctx context.Context, policy EvictionPolicy, now time.Time) (int64, error)
}

// EntryInfo is what eviction policies see of an entry.
type EntryInfo struct {
	Key      string
	StoredAt time.Time
	Size     int
}

// Key returns the cache key for u: the absolute URL including query and
// fragment. Method and headers are not part of the key.
func Key(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// KeyFor is Key for a request.
func KeyFor(req *resource.Request) string {
	if req == nil {
		return ""
	}
	return Key(req.URL)
}

// record is the serialized form used by the Redis backend.
type record struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

func encodeRecord(resp *resource.Response, now time.Time) ([]byte, error) {
	return json.Marshal(record{
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: now.UTC(),
	})
}

func decodeRecord(raw []byte) (record, error) {
	var rec record
	err := json.Unmarshal(raw, &rec)
	return rec, err
}

func (r record) response() *resource.Response {
	header := r.Header
	if header == nil {
		header = http.Header{}
	}
	return &resource.Response{Status: r.Status, Header: header, Body: r.Body}
}
