package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mdview/internal/cache"
	"mdview/internal/fetch"
	"mdview/internal/manifest"
	"mdview/internal/resource"
	"mdview/internal/shell"
	"mdview/internal/transcode"
)

type page struct {
	status int
	header http.Header
	body   string
}

// fakeOrigin serves fixed pages by absolute URL and records requests.
type fakeOrigin struct {
	mu    sync.Mutex
	pages map[string]page
	seen  []*resource.Request
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{pages: map[string]page{}}
}

func (o *fakeOrigin) set(rawURL string, status int, body string, header http.Header) {
	if header == nil {
		header = http.Header{}
	}
	o.mu.Lock()
	o.pages[rawURL] = page{status: status, header: header, body: body}
	o.mu.Unlock()
}

func (o *fakeOrigin) Fetch(_ context.Context, req *resource.Request) (*resource.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, req)
	p, ok := o.pages[req.URL.String()]
	if !ok {
		return &resource.Response{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return &resource.Response{Status: p.status, Header: p.header.Clone(), Body: []byte(p.body)}, nil
}

func (o *fakeOrigin) count(rawURL string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.seen {
		if r.URL.String() == rawURL {
			n++
		}
	}
	return n
}

func newTestRunner(t *testing.T, f fetch.Fetcher) (*Runner, cache.Handle) {
	t.Helper()
	h, err := cache.NewMemoryStore().Open(context.Background(), "markdown-cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	plugin := NewMarkdown(MarkdownOptions{
		Transcoder: transcode.New(transcode.Options{}),
		Manifests:  manifest.NewResolver(f, time.Second),
		Shells:     shell.NewLoader(f, time.Second, nil),
	})
	return NewRunner(f, plugin, time.Second, nil), h
}

func mustRequest(t *testing.T, rawURL string, mode resource.Mode) *resource.Request {
	t.Helper()
	req, err := resource.NewRequest(rawURL, mode)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestRunTranscodesAndCaches(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/doc.md", 200, "# Hello", http.Header{"Link": {`<./manifest.json>; rel="manifest"`}})
	origin.set("https://x/manifest.json", 200, `{"name":"site"}`, nil)

	r, h := newTestRunner(t, origin)
	ctx := context.Background()

	resp, err := r.Run(ctx, h, mustRequest(t, "https://x/doc.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}
	if !strings.Contains(resp.Text(), "<main><h1>Hello</h1>") {
		t.Fatalf("expected heading inside main, got %q", resp.Text())
	}
	if got := resp.Header.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("expected html content type, got %q", got)
	}
	if got := resp.Header.Get("Title"); got != "Hello" {
		t.Fatalf("expected title Hello, got %q", got)
	}
	if got := resp.Header.Get("Shell"); got != "" {
		t.Fatalf("expected no shell header, got %q", got)
	}
	if !strings.Contains(resp.Header.Get("Link"), "<https://x/manifest.json>") {
		t.Fatalf("expected resolved manifest link, got %q", resp.Header.Get("Link"))
	}

	stored, ok, err := h.Match(ctx, "https://x/doc.md")
	if err != nil || !ok {
		t.Fatalf("expected cache entry, ok=%v err=%v", ok, err)
	}
	if stored.Text() != resp.Text() {
		t.Fatalf("expected stored body to equal returned body")
	}
	// The manifest has no links capability and must not be fetched.
	if n := origin.count("https://x/manifest.json"); n != 0 {
		t.Fatalf("expected no manifest fetch, got %d", n)
	}
}

func TestRunRewritesRequest(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/doc.md", 200, "text", nil)
	r, h := newTestRunner(t, origin)

	if _, err := r.Run(context.Background(), h, mustRequest(t, "https://x/doc.md", resource.ModeNavigate)); err != nil {
		t.Fatalf("run: %v", err)
	}
	sent := origin.seen[0]
	if sent.Cache != resource.CacheReload {
		t.Fatalf("expected reload cache mode, got %q", sent.Cache)
	}
	if got := sent.Header.Get("Accept"); got != "text/markdown" {
		t.Fatalf("expected markdown accept header, got %q", got)
	}
}

func TestRunMetadataAndLinks(t *testing.T) {
	origin := newFakeOrigin()
	md := "---\ntitle: Guide\nauthor: Ann\n---\n# Heading\n"
	origin.set("https://x/a/b.md", 200, md, http.Header{"Link": {`<manifest.json>; rel="manifest links"`}})
	origin.set("https://x/a/manifest.json", 200,
		`{"links":[{"href":"style.css","rel":"stylesheet"}],"shell":"shell.html"}`, nil)

	r, h := newTestRunner(t, origin)
	resp, err := r.Run(context.Background(), h, mustRequest(t, "https://x/a/b.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	body := resp.Text()
	if !strings.Contains(body, "<title>Guide</title>") {
		t.Fatalf("expected metadata title, got %q", body)
	}
	if !strings.Contains(body, `<meta name="author" content="Ann" />`) {
		t.Fatalf("expected author meta, got %q", body)
	}
	if !strings.Contains(body, `href="https://x/a/style.css"`) {
		t.Fatalf("expected resolved stylesheet link, got %q", body)
	}
	if strings.Contains(body, "title: Guide") {
		t.Fatalf("expected front matter to be stripped, got %q", body)
	}
	if got := resp.Header.Get("Shell"); got != "https://x/a/shell.html" {
		t.Fatalf("expected shell header, got %q", got)
	}
	if got := resp.Header.Get("Content-Length"); got == "" {
		t.Fatalf("expected content length")
	}
}

func TestRunManifestFailureDegrades(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/doc.md", 200, "# Doc", http.Header{"Link": {`</missing.json>; rel="manifest links"`}})

	r, h := newTestRunner(t, origin)
	resp, err := r.Run(context.Background(), h, mustRequest(t, "https://x/doc.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("expected manifest failure to degrade, got %v", err)
	}
	if !strings.Contains(resp.Text(), "<h1>Doc</h1>") {
		t.Fatalf("expected rendered document, got %q", resp.Text())
	}
}

func TestRunMalformedFrontMatterIsIgnored(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/doc.md", 200, "---\ntitle: Open\n# Body\n", nil)

	r, h := newTestRunner(t, origin)
	resp, err := r.Run(context.Background(), h, mustRequest(t, "https://x/doc.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(resp.Text(), "<h1>Body</h1>") {
		t.Fatalf("expected body to be transcoded, got %q", resp.Text())
	}
}

func TestRunOriginErrorsDoNotCache(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/gone.md", 404, "nope", nil)

	r, h := newTestRunner(t, origin)
	ctx := context.Background()

	_, err := r.Run(ctx, h, mustRequest(t, "https://x/gone.md", resource.ModeOther))
	fe, ok := resource.IsFetchError(err)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Status != 404 {
		t.Fatalf("expected status 404, got %d", fe.Status)
	}
	if _, ok, _ := h.Match(ctx, "https://x/gone.md"); ok {
		t.Fatalf("expected no cache entry after failure")
	}

	boom := fetch.Func(func(context.Context, *resource.Request) (*resource.Response, error) {
		return nil, errors.New("connection refused")
	})
	r2, h2 := newTestRunner(t, boom)
	_, err = r2.Run(ctx, h2, mustRequest(t, "https://x/doc.md", resource.ModeOther))
	if fe, ok := resource.IsFetchError(err); !ok || fe.Status != 0 {
		t.Fatalf("expected transport FetchError, got %v", err)
	}
}

func TestRunConvertsHTMLOrigins(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/page.md", 200, "<h2>From HTML</h2><p>text</p>",
		http.Header{"Content-Type": {"text/html; charset=utf-8"}})

	h, _ := cache.NewMemoryStore().Open(context.Background(), "markdown-cache")
	plugin := NewMarkdown(MarkdownOptions{ConvertHTML: true})
	r := NewRunner(origin, plugin, time.Second, nil)

	resp, err := r.Run(context.Background(), h, mustRequest(t, "https://x/page.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(resp.Text(), "<h2>From HTML</h2>") {
		t.Fatalf("expected heading to survive conversion, got %q", resp.Text())
	}
	if got := resp.Header.Get("Title"); got != "From HTML" {
		t.Fatalf("expected inferred title, got %q", got)
	}
}

func TestCachedResponseWillBeUsed(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/a/b.md", 200, "# Page", http.Header{"Link": {`<manifest.json>; rel="manifest links"`}})
	origin.set("https://x/a/manifest.json", 200, `{"shell":"shell.html"}`, nil)
	origin.set("https://x/a/shell.html", 200,
		"<html><head><title>x</title></head><body><nav>site</nav><main>placeholder</main></body></html>", nil)

	r, h := newTestRunner(t, origin)
	ctx := context.Background()

	stored, err := r.Run(ctx, h, mustRequest(t, "https://x/a/b.md", resource.ModeOther))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	other, err := r.Plugin().CachedResponseWillBeUsed(ctx, h, mustRequest(t, "https://x/a/b.md", resource.ModeOther), stored)
	if err != nil {
		t.Fatalf("post-process non-navigation: %v", err)
	}
	if other.Text() != stored.Text() {
		t.Fatalf("expected non-navigation response to be unchanged")
	}

	nav := mustRequest(t, "https://x/a/b.md", resource.ModeNavigate)
	skinned, err := r.Plugin().CachedResponseWillBeUsed(ctx, h, nav, stored)
	if err != nil {
		t.Fatalf("post-process navigation: %v", err)
	}
	body := skinned.Text()
	if !strings.Contains(body, "<nav>site</nav>") {
		t.Fatalf("expected custom shell, got %q", body)
	}
	if !strings.Contains(body, "<main><h1>Page</h1>") {
		t.Fatalf("expected stored main content, got %q", body)
	}
	if !strings.Contains(body, "<title>Page</title>") {
		t.Fatalf("expected stored title, got %q", body)
	}
	if got := skinned.Header.Get("Content-Length"); got != strconv.Itoa(len(skinned.Body)) {
		t.Fatalf("expected content length %d, got %s", len(skinned.Body), got)
	}

	// A second navigation reads the shell from the cache.
	if _, err := r.Plugin().CachedResponseWillBeUsed(ctx, h, nav, stored); err != nil {
		t.Fatalf("post-process navigation: %v", err)
	}
	if n := origin.count("https://x/a/shell.html"); n != 1 {
		t.Fatalf("expected one shell fetch, got %d", n)
	}
}

func TestCachedResponseWithBrokenShellFails(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("https://x/shell.html", 200, "<html><head><title></title></head><body></body></html>", nil)

	plugin := NewMarkdown(MarkdownOptions{Shells: shell.NewLoader(origin, time.Second, nil)})
	h, _ := cache.NewMemoryStore().Open(context.Background(), "markdown-cache")

	stored := &resource.Response{
		Status: 200,
		Header: http.Header{"Shell": {"https://x/shell.html"}},
		Body:   []byte(shell.DefaultTemplate),
	}
	_, err := plugin.CachedResponseWillBeUsed(context.Background(), h, mustRequest(t, "https://x/doc.md", resource.ModeNavigate), stored)
	var te *shell.TemplateError
	if !errors.As(err, &te) || te.Region != "main" {
		t.Fatalf("expected missing main TemplateError, got %v", err)
	}
}
