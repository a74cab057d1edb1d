// Package linkset reads and writes link lists in the HTTP Link header format:
//
//	<href>; rel="a b"; type="text/html", <href2>; rel=manifest
//
// Decoding is lenient: an entry that cannot be parsed is dropped and the rest
// of the list is kept.
package linkset

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Link describes one entry of a link list. Params carries attributes other
// than rel, as and type so that header round-trips keep them.
type Link struct {
	Href   string
	Rel    string
	Type   string
	As     string
	Params map[string]string
}

var scriptTypes = map[string]struct{}{
	"text/javascript":        {},
	"application/javascript": {},
	"module":                 {},
}

// IsScript reports whether the link should be emitted as a <script> element.
func (l Link) IsScript() bool {
	_, ok := scriptTypes[strings.ToLower(strings.TrimSpace(l.Type))]
	return ok
}

// HasRel reports whether the rel attribute contains token, case-insensitively.
func (l Link) HasRel(token string) bool {
	token = strings.ToLower(token)
	for _, t := range strings.Fields(strings.ToLower(l.Rel)) {
		if t == token {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share Params.
func (l Link) Clone() Link {
	if l.Params != nil {
		params := make(map[string]string, len(l.Params))
		for k, v := range l.Params {
			params[k] = v
		}
		l.Params = params
	}
	return l
}

// Find returns the first link carrying the rel token.
func Find(links []Link, rel string) (Link, bool) {
	for _, l := range links {
		if l.HasRel(rel) {
			return l, true
		}
	}
	return Link{}, false
}

// Encode serializes links into a single Link header value.
func Encode(links []Link) string {
	entries := make([]string, 0, len(links))
	for _, l := range links {
		var b strings.Builder
		b.WriteString("<")
		b.WriteString(l.Href)
		b.WriteString(">")
		writeParam(&b, "rel", l.Rel)
		writeParam(&b, "as", l.As)
		writeParam(&b, "type", l.Type)

		keys := make([]string, 0, len(l.Params))
		for k := range l.Params {
			switch strings.ToLower(k) {
			case "rel", "as", "type":
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("; ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(quote(l.Params[k]))
		}
		entries = append(entries, b.String())
	}
	return strings.Join(entries, ", ")
}

func writeParam(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString("; ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(quote(value))
}

// quote renders a parameter value. Values with a double quote but no single
// quote or backslash are single-quoted; anything else that needs quoting is a
// double-quoted string with backslash escapes.
func quote(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\r\n,;\"'") {
		return value
	}
	if strings.Contains(value, `"`) && !strings.ContainsAny(value, `'\`) {
		return "'" + value + "'"
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(value); i++ {
		if c := value[i]; c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(value[i])
	}
	b.WriteByte('"')
	return b.String()
}

// Decode parses a Link header value. Malformed entries are skipped.
func Decode(text string) []Link {
	var links []Link
	for _, entry := range splitTopLevel(text, ',') {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if l, err := decodeEntry(entry); err == nil {
			links = append(links, l)
		}
	}
	return links
}

var (
	errMissingHref = errors.New("linkset: entry does not start with <href>")
	errQuote       = errors.New("linkset: unbalanced quotes")
	errEmptyKey    = errors.New("linkset: empty parameter name")
)

func decodeEntry(entry string) (Link, error) {
	segments := splitTopLevel(entry, ';')
	href, err := unquote(segments[0], "<", ">", true)
	if err != nil {
		return Link{}, err
	}

	l := Link{Href: strings.TrimSpace(href)}
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, _ := strings.Cut(seg, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return Link{}, errEmptyKey
		}
		value, err = unquoteValue(strings.TrimSpace(value))
		if err != nil {
			return Link{}, err
		}

		switch key {
		case "rel":
			l.Rel = value
		case "as":
			l.As = value
		case "type":
			l.Type = value
		default:
			if l.Params == nil {
				l.Params = map[string]string{}
			}
			l.Params[key] = value
		}
	}
	return l, nil
}

func unquote(text, start, end string, required bool) (string, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, start) {
		if required {
			return "", errMissingHref
		}
		if strings.HasSuffix(text, end) {
			return "", errQuote
		}
		return text, nil
	}
	if len(text) < len(start)+len(end) || !strings.HasSuffix(text, end) {
		if required {
			return "", errMissingHref
		}
		return "", errQuote
	}
	return text[len(start) : len(text)-len(end)], nil
}

func unquoteValue(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, `"`):
		return unescape(value)
	case strings.HasPrefix(value, "'"):
		return unquote(value, "'", "'", false)
	default:
		return unquote(value, `"`, `"`, false)
	}
}

// unescape decodes a double-quoted string with backslash escapes.
func unescape(value string) (string, error) {
	var b strings.Builder
	for i := 1; i < len(value); i++ {
		switch c := value[i]; c {
		case '\\':
			if i+1 >= len(value) {
				return "", errQuote
			}
			i++
			b.WriteByte(value[i])
		case '"':
			if i != len(value)-1 {
				return "", errQuote
			}
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", errQuote
}

// splitTopLevel splits on sep, ignoring separators inside <...> or quotes.
// A quote or angle bracket that never closes ends at the next sep, so one
// malformed part does not swallow the parts after it.
func splitTopLevel(text string, sep byte) []string {
	var (
		parts  []string
		start  int
		open   = -1
		closer byte
		i      int
	)
	for {
		for ; i < len(text); i++ {
			c := text[i]
			switch {
			case open >= 0:
				if c == '\\' && closer == '"' {
					i++
				} else if c == closer {
					open = -1
				}
			case c == '<':
				open, closer = i, '>'
			case c == '"' || c == '\'':
				open, closer = i, c
			case c == sep:
				parts = append(parts, text[start:i])
				start = i + 1
			}
		}
		if open < 0 {
			break
		}
		idx := strings.IndexByte(text[open+1:], sep)
		if idx < 0 {
			break
		}
		cut := open + 1 + idx
		parts = append(parts, text[start:cut])
		start, i, open = cut+1, cut+1, -1
	}
	return append(parts, text[start:])
}

// Resolve returns copies of links with every href made absolute against base.
// Links whose href cannot be resolved are dropped.
func Resolve(links []Link, base *url.URL) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		ref, err := url.Parse(strings.TrimSpace(l.Href))
		if err != nil || (l.Href == "" && base == nil) {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if !ref.IsAbs() {
			continue
		}
		resolved := l.Clone()
		resolved.Href = ref.String()
		out = append(out, resolved)
	}
	return out
}

// FromHeader decodes every Link header line in h and resolves the hrefs
// against the declaring document.
func FromHeader(h http.Header, base *url.URL) []Link {
	values := h.Values("Link")
	if len(values) == 0 {
		return nil
	}
	return Resolve(Decode(strings.Join(values, ", ")), base)
}
