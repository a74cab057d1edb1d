// Package pipeline runs the origin fetch for an intercepted request and
// writes the enriched result to the content cache.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mdview/internal/cache"
	"mdview/internal/fetch"
	"mdview/internal/metrics"
	"mdview/internal/resource"
)

// Plugin hooks into the three points of a pipeline run.
type Plugin interface {
	// RequestWillFetch rewrites the request before it goes to the origin.
	RequestWillFetch(ctx context.Context, req *resource.Request) (*resource.Request, error)
	// CacheWillUpdate turns the origin response into the cached form.
	CacheWillUpdate(ctx context.Context, req *resource.Request, resp *resource.Response) (*resource.Response, error)
	// CachedResponseWillBeUsed finalises a cached response before it is served.
	CachedResponseWillBeUsed(ctx context.Context, c cache.Handle, req *resource.Request, resp *resource.Response) (*resource.Response, error)
}

// Runner performs one fetch-enrich-store pass.
type Runner struct {
	fetcher fetch.Fetcher
	plugin  Plugin
	timeout time.Duration
	logger  *slog.Logger
}

func NewRunner(f fetch.Fetcher, p Plugin, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{fetcher: f, plugin: p, timeout: timeout, logger: logger}
}

func (r *Runner) Plugin() Plugin { return r.plugin }

// Timeout bounds one origin fetch; zero means no deadline.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run fetches req from the origin, enriches the response and stores it under
// the key of the original request. The returned response is a copy of what
// was stored. Nothing is written when any step fails.
func (r *Runner) Run(ctx context.Context, c cache.Handle, req *resource.Request) (*resource.Response, error) {
	if req == nil || req.URL == nil {
		return nil, &resource.FetchError{Err: fmt.Errorf("missing request url")}
	}
	key := cache.KeyFor(req)

	rewritten, err := r.plugin.RequestWillFetch(ctx, req.Clone())
	if err != nil {
		return nil, err
	}

	raw, err := r.fetch(ctx, rewritten)
	if err != nil {
		metrics.RecordOriginFetch("error")
		return nil, err
	}
	metrics.RecordOriginFetch("ok")

	enriched, err := r.plugin.CacheWillUpdate(ctx, req, raw)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.Put(ctx, key, enriched); err != nil {
		return nil, fmt.Errorf("cache put %s: %w", key, err)
	}
	r.logger.Debug("cached document", "url", key, "bytes", len(enriched.Body))
	return enriched.Clone(), nil
}

func (r *Runner) fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	fctx, cancel := fetch.WithTimeout(ctx, r.timeout)
	defer cancel()

	target := req.URL.String()
	resp, err := r.fetcher.Fetch(fctx, req)
	if err != nil {
		if _, ok := resource.IsFetchError(err); ok {
			return nil, err
		}
		return nil, &resource.FetchError{URL: target, Err: err}
	}
	if !resp.OK() {
		return nil, &resource.FetchError{URL: target, Status: resp.Status}
	}
	return resp, nil
}
