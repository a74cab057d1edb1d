package shell

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"mdview/internal/cache"
	"mdview/internal/fetch"
)

// Loader retrieves shell templates through the content cache.
type Loader struct {
	fetcher fetch.Fetcher
	timeout time.Duration
	logger  *slog.Logger
}

func NewLoader(f fetch.Fetcher, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fetcher: f, timeout: timeout, logger: logger}
}

// Get returns the shell at shellURL, or DefaultTemplate when shellURL is
// empty or the shell cannot be retrieved. It never fails.
func (l *Loader) Get(ctx context.Context, c cache.Handle, shellURL string) string {
	if shellURL == "" {
		return DefaultTemplate
	}
	u, err := url.Parse(shellURL)
	if err != nil || !u.IsAbs() {
		l.logger.Warn("shell url invalid, using default template", "shell", shellURL)
		return DefaultTemplate
	}
	key := cache.Key(u)

	if c != nil {
		cached, ok, err := c.Match(ctx, key)
		if err != nil {
			l.logger.Warn("shell cache lookup failed", "shell", key, "error", err)
		}
		if ok && cached.OK() {
			return cached.Text()
		}
	}

	resp, err := fetch.Get(ctx, l.fetcher, key, l.timeout)
	if err != nil {
		l.logger.Warn("shell fetch failed, using default template", "shell", key, "error", err)
		return DefaultTemplate
	}
	if c != nil {
		if err := c.Put(ctx, key, resp); err != nil {
			l.logger.Warn("shell cache put failed", "shell", key, "error", err)
		}
	}
	return resp.Text()
}
