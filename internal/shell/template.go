// Package shell merges transcoded content into HTML shell templates.
//
// A shell has three merge points: the <title> element, the end of <head>
// (where <meta>, <link> and <script> tags are inserted) and the <main>
// element whose content is replaced by the document body.
package shell

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mdview/internal/linkset"
)

// DefaultTemplate is used when no shell is declared or the shell cannot be
// fetched.
const DefaultTemplate = `<!DOCTYPE html>
<html>
  <head>
    <title></title>
  </head>
  <body>
    <main></main>
  </body>
</html>
`

// TemplateError reports a shell missing one of its merge regions.
type TemplateError struct {
	Region string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("shell template: missing %s region", e.Region)
}

var (
	titleRegion = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title>`)
	headClose   = regexp.MustCompile(`(?i)</head>`)
	mainRegion  = regexp.MustCompile(`(?is)<main\b[^>]*>(.*)</main>`)
	headingTags = "h1, h2, h3, h4, h5, h6"
)

// Document is the content merged into a shell.
type Document struct {
	// Body is the transcoded HTML placed inside <main>.
	Body string
	// Title overrides every other title source when set.
	Title string
	// Metadata entries other than title become <meta name content> tags.
	Metadata map[string]string
	Links    []linkset.Link
	// URL is the document URL; its path is the title of last resort.
	URL *url.URL
}

// Apply merges doc into tpl.
func Apply(tpl string, doc Document) (string, error) {
	if err := validate(tpl); err != nil {
		return "", err
	}

	title := ResolveTitle(doc)
	loc := titleRegion.FindStringSubmatchIndex(tpl)
	out := tpl[:loc[2]] + html.EscapeString(title) + tpl[loc[3]:]

	if head := headFragment(doc); head != "" {
		loc = headClose.FindStringIndex(out)
		out = out[:loc[0]] + head + "\n" + out[loc[0]:]
	}

	loc = mainRegion.FindStringSubmatchIndex(out)
	out = out[:loc[2]] + doc.Body + out[loc[3]:]
	return out, nil
}

func validate(tpl string) error {
	switch {
	case !titleRegion.MatchString(tpl):
		return &TemplateError{Region: "title"}
	case !headClose.MatchString(tpl):
		return &TemplateError{Region: "head"}
	case !mainRegion.MatchString(tpl):
		return &TemplateError{Region: "main"}
	}
	return nil
}

// ResolveTitle picks the explicit title, then title metadata, then the first
// heading of the body, then the URL path.
func ResolveTitle(doc Document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Metadata["title"]); t != "" {
		return t
	}
	if t := InferTitle(doc.Body); t != "" {
		return t
	}
	if doc.URL != nil {
		return doc.URL.Path
	}
	return ""
}

// InferTitle returns the text of the first heading element in body.
func InferTitle(body string) string {
	if !strings.Contains(body, "<h") && !strings.Contains(body, "<H") {
		return ""
	}
	d, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(d.Find(headingTags).First().Text())
}

func headFragment(doc Document) string {
	var parts []string

	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		if strings.EqualFold(k, "title") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`<meta name="%s" content="%s" />`,
			html.EscapeString(k), html.EscapeString(doc.Metadata[k])))
	}

	for _, l := range doc.Links {
		parts = append(parts, linkTag(l))
	}
	return strings.Join(parts, "\n")
}

func linkTag(l linkset.Link) string {
	if l.IsScript() {
		return fmt.Sprintf(`<script src="%s" type="%s"></script>`,
			html.EscapeString(l.Href), html.EscapeString(l.Type))
	}
	var b strings.Builder
	b.WriteString("<link")
	attr := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, ` %s="%s"`, name, html.EscapeString(value))
	}
	attr("href", l.Href)
	attr("rel", l.Rel)
	attr("as", l.As)
	attr("type", l.Type)
	b.WriteString(" />")
	return b.String()
}

// Extract reads back a rendered document: the <main> content verbatim, the
// <title> text and the named <meta> tags.
func Extract(rendered string) (Document, error) {
	loc := mainRegion.FindStringSubmatchIndex(rendered)
	if loc == nil {
		return Document{}, &TemplateError{Region: "main"}
	}
	doc := Document{Body: rendered[loc[2]:loc[3]], Metadata: map[string]string{}}

	d, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return Document{}, fmt.Errorf("parse rendered document: %w", err)
	}
	doc.Title = strings.TrimSpace(d.Find("head title").First().Text())
	d.Find("head meta[name]").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name = strings.TrimSpace(name); name == "" {
			return
		}
		doc.Metadata[name] = sel.AttrOr("content", "")
	})
	return doc, nil
}
