package linkset

import (
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	links := []Link{
		{Href: "https://x/a/style.css", Rel: "stylesheet"},
		{Href: "https://x/boot.js", Rel: "preload", As: "script", Type: "text/javascript"},
		{Href: "https://x/a,b.json", Rel: "manifest links", Type: "application/json", Params: map[string]string{"crossorigin": "anonymous"}},
		{Href: "https://x/odd", Rel: "alternate", Params: map[string]string{"title": `say "hi"`, "empty": ""}},
	}

	encoded := Encode(links)
	decoded := Decode(encoded)

	if !reflect.DeepEqual(decoded, links) {
		t.Fatalf("round trip mismatch\nencoded: %s\nwant: %#v\ngot:  %#v", encoded, links, decoded)
	}
}

func TestEncodeDecodeMixedQuotes(t *testing.T) {
	links := []Link{
		{Href: "https://x/a", Params: map[string]string{"a": `it's "x"`, "media": "print"}},
		{Href: "https://x/b", Rel: "next"},
		{Href: "https://x/c", Params: map[string]string{"path": `C:\docs, "draft"`}},
	}

	encoded := Encode(links)
	if want := `<https://x/a>; a="it's \"x\""; media=print`; encoded[:len(want)] != want {
		t.Fatalf("expected escaped double-quoted value, got %s", encoded)
	}
	if decoded := Decode(encoded); !reflect.DeepEqual(decoded, links) {
		t.Fatalf("round trip mismatch\nencoded: %s\nwant: %#v\ngot:  %#v", encoded, links, decoded)
	}
}

func TestDecodeUnclosedQuoteKeepsLaterEntries(t *testing.T) {
	links := Decode(`<https://x/a>; title="unterminated, <https://x/b>; rel=next, <https://x/c>; t='x, <https://x/d>`)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d (%#v)", len(links), links)
	}
	if links[0].Href != "https://x/b" || links[0].Rel != "next" {
		t.Fatalf("unexpected first link %#v", links[0])
	}
	if links[1].Href != "https://x/d" {
		t.Fatalf("unexpected second link %#v", links[1])
	}
}

func TestEncodeQuotesWhitespaceOnly(t *testing.T) {
	got := Encode([]Link{{Href: "/m.json", Rel: "manifest links", Type: "application/json"}})
	want := `</m.json>; rel="manifest links"; type=application/json`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDecodeDropsMalformedEntries(t *testing.T) {
	text := `<https://x/a>; rel=one, https://x/b; rel=two, <https://x/c>; REL='three', <https://x/d>; =bad`
	links := Decode(text)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d (%#v)", len(links), links)
	}
	if links[0].Href != "https://x/a" || links[0].Rel != "one" {
		t.Fatalf("unexpected first link %#v", links[0])
	}
	if links[1].Href != "https://x/c" || links[1].Rel != "three" {
		t.Fatalf("expected lower-cased key and unwrapped single quotes, got %#v", links[1])
	}
}

func TestDecodeUnbalancedQuote(t *testing.T) {
	links := Decode(`<https://x/a>; rel="open`)
	if len(links) != 0 {
		t.Fatalf("expected unbalanced quote to drop the entry, got %#v", links)
	}
	links = Decode(`<https://x/a>; rel=close"`)
	if len(links) != 0 {
		t.Fatalf("expected trailing quote to drop the entry, got %#v", links)
	}
}

func TestDecodeEmpty(t *testing.T) {
	if links := Decode(""); len(links) != 0 {
		t.Fatalf("expected no links, got %#v", links)
	}
	if links := Decode(" , ,"); len(links) != 0 {
		t.Fatalf("expected no links for separators only, got %#v", links)
	}
}

func TestFromHeaderResolvesAgainstDocument(t *testing.T) {
	h := http.Header{}
	h.Add("Link", "<../boot.js>; rel=boot")
	h.Add("Link", `<./manifest.json>; rel="manifest links"`)
	base, _ := url.Parse("https://x/a/b/doc.md")

	links := FromHeader(h, base)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %#v", links)
	}
	if links[0].Href != "https://x/a/boot.js" {
		t.Fatalf("expected resolved boot href, got %q", links[0].Href)
	}
	if links[1].Href != "https://x/a/b/manifest.json" {
		t.Fatalf("expected resolved manifest href, got %q", links[1].Href)
	}
	if !links[1].HasRel("LINKS") || !links[1].HasRel("manifest") {
		t.Fatalf("expected rel tokens manifest and links, got %q", links[1].Rel)
	}
}

func TestResolveWithoutBaseDropsRelative(t *testing.T) {
	links := Resolve([]Link{{Href: "relative.css"}, {Href: "https://x/abs.css"}}, nil)
	if len(links) != 1 || links[0].Href != "https://x/abs.css" {
		t.Fatalf("expected only the absolute link, got %#v", links)
	}
}

func TestIsScript(t *testing.T) {
	cases := map[string]bool{
		"text/javascript":        true,
		"application/javascript": true,
		"module":                 true,
		"text/css":               false,
		"":                       false,
	}
	for typ, want := range cases {
		if got := (Link{Type: typ}).IsScript(); got != want {
			t.Fatalf("IsScript(%q) = %v, want %v", typ, got, want)
		}
	}
}
