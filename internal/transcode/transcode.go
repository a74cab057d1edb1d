// Package transcode turns markdown source into HTML fragments.
package transcode

import (
	"bytes"
	"fmt"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
)

// Options controls the goldmark pipeline. The zero value renders plain
// CommonMark with raw HTML passed through.
type Options struct {
	Extensions    []string
	AutoHeadingID bool
	// Safe drops raw HTML from the output.
	Safe bool
}

// Transcoder renders markdown into an HTML fragment. It holds no per-call
// state and can be shared across requests.
type Transcoder struct {
	opts Options
}

func New(opts Options) *Transcoder {
	return &Transcoder{opts: opts}
}

// Transcode renders markdown to HTML. The result has no outer document tags.
func (t *Transcoder) Transcode(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := newEngine(t.opts).Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown render: %w", err)
	}
	return buf.String(), nil
}

func newEngine(opts Options) goldmark.Markdown {
	var parserOptions []parser.Option
	if opts.AutoHeadingID {
		parserOptions = append(parserOptions, parser.WithAutoHeadingID())
	}

	var rendererOptions []renderer.Option
	if !opts.Safe {
		rendererOptions = append(rendererOptions, html.WithUnsafe())
	}

	engineOptions := []goldmark.Option{}
	if len(parserOptions) > 0 {
		engineOptions = append(engineOptions, goldmark.WithParserOptions(parserOptions...))
	}
	if len(rendererOptions) > 0 {
		engineOptions = append(engineOptions, goldmark.WithRendererOptions(rendererOptions...))
	}
	if exts := collectExtensions(opts.Extensions); len(exts) > 0 {
		engineOptions = append(engineOptions, goldmark.WithExtensions(exts...))
	}
	return goldmark.New(engineOptions...)
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"tables":        extension.Table,
	"strikethrough": extension.Strikethrough,
	"linkify":       extension.Linkify,
	"autolink":      extension.Linkify,
	"tasklist":      extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
}

// collectExtensions maps configured names to extenders. Unknown names are
// ignored.
func collectExtensions(names []string) []goldmark.Extender {
	var extenders []goldmark.Extender
	seen := map[string]struct{}{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		ext, ok := extensionRegistry[key]
		if !ok {
			continue
		}
		extenders = append(extenders, ext)
		seen[key] = struct{}{}
	}
	return extenders
}

// HTMLToMarkdown converts an HTML body back to CommonMark. It is used when an
// origin ignores Accept: text/markdown and answers with HTML.
func HTMLToMarkdown(htmlText, host string) (string, error) {
	converter := htmlmd.NewConverter(host, true, nil)
	out, err := converter.ConvertString(htmlText)
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return out, nil
}
