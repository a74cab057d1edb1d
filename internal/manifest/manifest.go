// Package manifest resolves auxiliary links declared by a document's
// companion manifest.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mdview/internal/fetch"
	"mdview/internal/linkset"
)

// Resolver fetches manifests referenced by rel="manifest links" descriptors.
type Resolver struct {
	fetcher fetch.Fetcher
	timeout time.Duration
}

func NewResolver(f fetch.Fetcher, timeout time.Duration) *Resolver {
	return &Resolver{fetcher: f, timeout: timeout}
}

// Resolve returns the links declared in the manifest referenced by declared.
// It makes no network call unless a descriptor carries both the manifest and
// links rel tokens. Fetch and decode failures are returned to the caller.
func (r *Resolver) Resolve(ctx context.Context, declared []linkset.Link, documentURL *url.URL) ([]linkset.Link, error) {
	manifestLink, ok := linkset.Find(declared, "manifest")
	if !ok || !manifestLink.HasRel("links") {
		return nil, nil
	}

	ref, err := url.Parse(strings.TrimSpace(manifestLink.Href))
	if err != nil {
		return nil, fmt.Errorf("manifest href %q: %w", manifestLink.Href, err)
	}
	manifestURL := ref
	if documentURL != nil {
		manifestURL = documentURL.ResolveReference(ref)
	}

	resp, err := fetch.Get(ctx, r.fetcher, manifestURL.String(), r.timeout)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := resp.JSON(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", manifestURL, err)
	}
	return doc.links(manifestURL)
}

// document is the subset of the manifest the resolver reads. Shell is either
// a URL string or an array of descriptors.
type document struct {
	Links []map[string]any `json:"links"`
	Shell json.RawMessage  `json:"shell"`
}

func (d document) links(manifestURL *url.URL) ([]linkset.Link, error) {
	out := make([]linkset.Link, 0, len(d.Links))
	for _, raw := range d.Links {
		if l, ok := descriptor(raw); ok {
			out = append(out, l)
		}
	}

	shell := strings.TrimSpace(string(d.Shell))
	switch {
	case shell == "" || shell == "null":
	case strings.HasPrefix(shell, `"`):
		var href string
		if err := json.Unmarshal(d.Shell, &href); err != nil {
			return nil, fmt.Errorf("decode manifest shell: %w", err)
		}
		if href != "" {
			out = append(out, linkset.Link{Href: href, Rel: "shell", Type: "text/html"})
		}
	default:
		var entries []map[string]any
		if err := json.Unmarshal(d.Shell, &entries); err != nil {
			return nil, fmt.Errorf("decode manifest shell: %w", err)
		}
		for _, raw := range entries {
			if l, ok := descriptor(raw); ok {
				out = append(out, l)
			}
		}
	}

	return linkset.Resolve(out, manifestURL), nil
}

func descriptor(raw map[string]any) (linkset.Link, bool) {
	var l linkset.Link
	for key, value := range raw {
		s := stringify(value)
		switch strings.ToLower(key) {
		case "href":
			l.Href = s
		case "rel":
			l.Rel = s
		case "type":
			l.Type = s
		case "as":
			l.As = s
		default:
			if l.Params == nil {
				l.Params = map[string]string{}
			}
			l.Params[strings.ToLower(key)] = s
		}
	}
	return l, strings.TrimSpace(l.Href) != ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}
