package cache

import (
	"context"
	"sync"
	"time"

	"mdview/internal/resource"
)

// MemoryStore keeps caches in process memory. Entries are cloned on the way
// in and out so callers never share buffers with the store.
type MemoryStore struct {
	mu     sync.Mutex
	caches map[string]*memoryHandle
	closed bool
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{caches: map[string]*memoryHandle{}, now: time.Now}
}

func (s *MemoryStore) Open(_ context.Context, name string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	h, ok := s.caches[name]
	if !ok {
		h = &memoryHandle{name: name, entries: map[string]memoryEntry{}, now: s.now}
		s.caches[name] = h
	}
	return h, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryEntry struct {
	resp     *resource.Response
	storedAt time.Time
}

type memoryHandle struct {
	name    string
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func (h *memoryHandle) Name() string { return h.name }

func (h *memoryHandle) Match(ctx context.Context, key string) (*resource.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	h.mu.RLock()
	e, ok := h.entries[key]
	h.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return e.resp.Clone(), true, nil
}

func (h *memoryHandle) Put(ctx context.Context, key string, resp *resource.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := memoryEntry{resp: resp.Clone(), storedAt: h.now()}
	h.mu.Lock()
	h.entries[key] = e
	h.mu.Unlock()
	return nil
}

func (h *memoryHandle) Delete(_ context.Context, key string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[key]
	delete(h.entries, key)
	return ok, nil
}

func (h *memoryHandle) Sweep(ctx context.Context, policy EvictionPolicy, now time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed int64
	for key, e := range h.entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info := EntryInfo{Key: key, StoredAt: e.storedAt, Size: len(e.resp.Body)}
		if policy.Evict(info, now) {
			delete(h.entries, key)
			removed++
		}
	}
	return removed, nil
}
