package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"mdview/internal/cache"
	"mdview/internal/linkset"
	"mdview/internal/manifest"
	"mdview/internal/metrics"
	"mdview/internal/resource"
	"mdview/internal/shell"
	"mdview/internal/transcode"
)

// Headers carried on cached documents.
const (
	HeaderLink  = "Link"
	HeaderTitle = "Title"
	HeaderShell = "Shell"

	htmlContentType = "text/html; charset=utf-8"
	markdownAccept  = "text/markdown"
)

// Markdown is the Plugin that turns markdown documents into HTML pages.
type Markdown struct {
	transcoder  *transcode.Transcoder
	manifests   *manifest.Resolver
	shells      *shell.Loader
	convertHTML bool
	logger      *slog.Logger
}

type MarkdownOptions struct {
	Transcoder *transcode.Transcoder
	Manifests  *manifest.Resolver
	Shells     *shell.Loader
	// ConvertHTML normalises text/html origin bodies to markdown first.
	ConvertHTML bool
	Logger      *slog.Logger
}

func NewMarkdown(opts MarkdownOptions) *Markdown {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tc := opts.Transcoder
	if tc == nil {
		tc = transcode.New(transcode.Options{})
	}
	return &Markdown{
		transcoder:  tc,
		manifests:   opts.Manifests,
		shells:      opts.Shells,
		convertHTML: opts.ConvertHTML,
		logger:      logger,
	}
}

func (m *Markdown) RequestWillFetch(_ context.Context, req *resource.Request) (*resource.Request, error) {
	out := req.Clone()
	out.Cache = resource.CacheReload
	out.Header.Set("Accept", markdownAccept)
	return out, nil
}

func (m *Markdown) CacheWillUpdate(ctx context.Context, req *resource.Request, raw *resource.Response) (*resource.Response, error) {
	text := raw.Text()
	if m.convertHTML && isHTML(raw.Header.Get("Content-Type")) {
		converted, err := transcode.HTMLToMarkdown(text, req.URL.Hostname())
		if err != nil {
			return nil, err
		}
		text = converted
	}

	fm, err := transcode.ExtractFrontMatter(text)
	if err != nil {
		metrics.RecordDegradation("front_matter")
		m.logger.Warn("front matter ignored", "url", req.URL.String(), "error", err)
	}

	body, err := m.transcoder.Transcode(fm.Body)
	if err != nil {
		return nil, err
	}

	links := linkset.FromHeader(raw.Header, req.URL)
	if m.manifests != nil {
		linked, err := m.manifests.Resolve(ctx, links, req.URL)
		if err != nil {
			metrics.RecordDegradation("manifest")
			m.logger.Warn("manifest unavailable", "url", req.URL.String(), "error", err)
		}
		links = append(links, linked...)
	}

	doc := shell.Document{
		Body:     body,
		Metadata: fm.Metadata,
		Links:    links,
		URL:      req.URL,
	}
	doc.Title = shell.ResolveTitle(doc)

	rendered, err := shell.Apply(shell.DefaultTemplate, doc)
	if err != nil {
		return nil, err
	}

	header := raw.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Content-Encoding")
	header.Del(HeaderLink)
	header.Del(HeaderShell)
	if len(links) > 0 {
		header.Set(HeaderLink, linkset.Encode(links))
	}
	header.Set(HeaderTitle, headerValue(doc.Title))
	if href, ok := shellHref(links); ok {
		header.Set(HeaderShell, href)
	}
	header.Set("Content-Type", htmlContentType)

	out := &resource.Response{Status: http.StatusOK, Header: header, Body: []byte(rendered)}
	out.SetContentLength()
	return out, nil
}

// CachedResponseWillBeUsed re-skins a stored document with its declared
// shell on navigations. Other requests get the stored document as is.
func (m *Markdown) CachedResponseWillBeUsed(ctx context.Context, c cache.Handle, req *resource.Request, resp *resource.Response) (*resource.Response, error) {
	if !req.IsNavigation() {
		return resp.Clone(), nil
	}

	doc, err := shell.Extract(resp.Text())
	if err != nil {
		var te *shell.TemplateError
		if errors.As(err, &te) {
			m.logger.Warn("stored document has no main region, serving as is", "url", req.URL.String())
			return resp.Clone(), nil
		}
		return nil, err
	}
	doc.URL = req.URL
	doc.Links = linkset.FromHeader(resp.Header, req.URL)
	if title := resp.Header.Get(HeaderTitle); title != "" {
		doc.Title = title
	}

	tpl := shell.DefaultTemplate
	if m.shells != nil {
		tpl = m.shells.Get(ctx, c, resp.Header.Get(HeaderShell))
	}
	rendered, err := shell.Apply(tpl, doc)
	if err != nil {
		return nil, err
	}

	out := resp.Clone()
	out.Body = []byte(rendered)
	out.SetContentLength()
	return out, nil
}

// shellHref reports the shell URL when exactly one link declares rel=shell.
func shellHref(links []linkset.Link) (string, bool) {
	var found []string
	for _, l := range links {
		if l.HasRel("shell") {
			found = append(found, l.Href)
		}
	}
	if len(found) != 1 {
		return "", false
	}
	return found[0], true
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

func headerValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
