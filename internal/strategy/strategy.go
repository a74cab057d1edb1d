// Package strategy decides, per intercepted request, whether to answer from
// the content cache or from the origin, and runs the chosen path.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"mdview/internal/cache"
	"mdview/internal/fetch"
	"mdview/internal/metrics"
	"mdview/internal/pipeline"
	"mdview/internal/resource"
)

// Strategy is the decision taken for one request.
type Strategy string

const (
	CacheFirst  Strategy = "cache_first"
	OriginFirst Strategy = "origin_first"
)

// Cache outcomes reported with each result.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeRefresh = "refresh"
	OutcomeStale   = "stale"
)

const (
	DefaultCacheName = "markdown-cache"
	DefaultPattern   = `(?i)\.md$`
)

// ErrNotActive is returned by Handle before Activate has succeeded.
var ErrNotActive = errors.New("strategy: handler not active")

// Select picks OriginFirst for reloads and CacheFirst for everything else.
func Select(req *resource.Request) Strategy {
	if req.IsReload() {
		return OriginFirst
	}
	return CacheFirst
}

type Options struct {
	CacheName string
	// Match selects the request paths that are intercepted.
	Match *regexp.Regexp
	// StaleFallback serves the cached entry when an origin-first fetch fails.
	StaleFallback bool
	// Dedupe shares one pipeline run between concurrent requests for a key.
	Dedupe bool
}

func (o Options) withDefaults() Options {
	if o.CacheName == "" {
		o.CacheName = DefaultCacheName
	}
	if o.Match == nil {
		o.Match = regexp.MustCompile(DefaultPattern)
	}
	return o
}

// Result is a served response together with how it was obtained.
type Result struct {
	Response *resource.Response
	Strategy Strategy
	Outcome  string
}

type Handler struct {
	store  cache.Store
	runner *pipeline.Runner
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	handle cache.Handle

	group singleflight.Group
}

func New(store cache.Store, runner *pipeline.Runner, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, runner: runner, opts: opts.withDefaults(), logger: logger}
}

// Activate opens the named cache. Requests are only handled afterwards.
func (h *Handler) Activate(ctx context.Context) error {
	handle, err := h.store.Open(ctx, h.opts.CacheName)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.handle = handle
	h.mu.Unlock()
	h.logger.Info("interception active", "cache", h.opts.CacheName, "pattern", h.opts.Match.String())
	return nil
}

func (h *Handler) Active() bool {
	return h.cache() != nil
}

func (h *Handler) CacheName() string { return h.opts.CacheName }

func (h *Handler) Cache() cache.Handle { return h.cache() }

func (h *Handler) cache() cache.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handle
}

// Matches reports whether the path of u is intercepted.
func (h *Handler) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	return h.opts.Match.MatchString(u.Path)
}

// Handle serves req and returns the final response.
func (h *Handler) Handle(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	res, err := h.Serve(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// Serve is Handle with the strategy and cache outcome attached.
func (h *Handler) Serve(ctx context.Context, req *resource.Request) (Result, error) {
	c := h.cache()
	if c == nil {
		return Result{}, ErrNotActive
	}

	s := Select(req)
	var (
		resp    *resource.Response
		outcome string
		err     error
	)
	switch s {
	case OriginFirst:
		resp, outcome, err = h.originFirst(ctx, c, req)
	default:
		resp, outcome, err = h.cacheFirst(ctx, c, req)
	}
	if err != nil {
		return Result{Strategy: s, Outcome: outcome}, err
	}
	metrics.RecordCacheLookup(string(s), outcome)

	final, err := h.runner.Plugin().CachedResponseWillBeUsed(ctx, c, req, resp)
	if err != nil {
		return Result{Strategy: s, Outcome: outcome}, err
	}
	return Result{Response: final, Strategy: s, Outcome: outcome}, nil
}

func (h *Handler) cacheFirst(ctx context.Context, c cache.Handle, req *resource.Request) (*resource.Response, string, error) {
	key := cache.KeyFor(req)
	cached, ok, err := c.Match(ctx, key)
	if err != nil {
		h.logger.Warn("cache lookup failed, fetching from origin", "url", key, "error", err)
	}
	if ok {
		return cached, OutcomeHit, nil
	}
	resp, err := h.run(ctx, CacheFirst, c, req)
	return resp, OutcomeMiss, err
}

func (h *Handler) originFirst(ctx context.Context, c cache.Handle, req *resource.Request) (*resource.Response, string, error) {
	resp, err := h.run(ctx, OriginFirst, c, req)
	if err == nil {
		return resp, OutcomeRefresh, nil
	}
	if !h.opts.StaleFallback || ctx.Err() != nil {
		return nil, OutcomeRefresh, err
	}

	key := cache.KeyFor(req)
	cached, ok, lookupErr := c.Match(ctx, key)
	if lookupErr != nil || !ok {
		return nil, OutcomeRefresh, err
	}
	h.logger.Warn("origin fetch failed, serving cached copy", "url", key, "error", err)
	return cached, OutcomeStale, nil
}

// run executes the pipeline, sharing in-flight runs when deduplication is on.
// A shared run is detached from the caller that started it and bounded by
// the runner timeout, so one caller going away does not fail the others.
// Every caller receives its own copy of the response.
func (h *Handler) run(ctx context.Context, s Strategy, c cache.Handle, req *resource.Request) (*resource.Response, error) {
	if !h.opts.Dedupe {
		return h.runner.Run(ctx, c, req)
	}
	key := cache.KeyFor(req)
	ch := h.group.DoChan(string(s)+" "+key, func() (any, error) {
		shared, cancel := fetch.WithTimeout(context.WithoutCancel(ctx), h.runner.Timeout())
		defer cancel()
		return h.runner.Run(shared, c, req.Clone())
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			h.logger.Debug("shared in-flight fetch", "url", key, "strategy", string(s))
		}
		return res.Val.(*resource.Response).Clone(), nil
	}
}
