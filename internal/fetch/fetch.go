package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"mdview/internal/resource"
)

// Fetcher is the outbound fetch capability used by the pipeline, the manifest
// resolver and the shell loader. Non-2xx responses are returned as responses;
// only transport failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, req *resource.Request) (*resource.Response, error)

func (f Func) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   Options
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	if req == nil || req.URL == nil {
		return nil, &resource.FetchError{Err: fmt.Errorf("missing request url")}
	}
	target := req.URL.String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &resource.FetchError{URL: target, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Cache == resource.CacheReload {
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
	}
	if f.opts.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &resource.FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &resource.FetchError{URL: target, Err: err}
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &resource.FetchError{URL: target, Err: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBodyBytes)}
	}

	return &resource.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// Get fetches rawURL under a bounded timeout and converts non-2xx statuses
// into FetchErrors.
func Get(ctx context.Context, f Fetcher, rawURL string, timeout time.Duration) (*resource.Response, error) {
	req, err := resource.NewRequest(rawURL, resource.ModeOther)
	if err != nil {
		return nil, &resource.FetchError{URL: rawURL, Err: err}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &resource.FetchError{URL: rawURL, Status: resp.Status}
	}
	return resp, nil
}

// WithTimeout is context.WithTimeout that treats d <= 0 as no deadline.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
