package transcode

import (
	"strings"
	"testing"
)

func TestTranscodeCommonMark(t *testing.T) {
	tr := New(Options{})
	out, err := tr.Transcode("# Hello\n\nSome *text* and <span>raw</span>.\n")
	if err != nil {
		t.Fatalf("Transcode error: %v", err)
	}
	if !strings.Contains(out, "<h1>Hello</h1>") {
		t.Fatalf("expected plain heading, got %q", out)
	}
	if !strings.Contains(out, "<em>text</em>") || !strings.Contains(out, "<span>raw</span>") {
		t.Fatalf("expected emphasis and raw html passthrough, got %q", out)
	}
	if strings.Contains(out, "<html") || strings.Contains(out, "<body") {
		t.Fatalf("expected a fragment only, got %q", out)
	}
}

func TestTranscodeSafeDropsRawHTML(t *testing.T) {
	out, err := New(Options{Safe: true}).Transcode("<script>alert(1)</script>\n\ntext\n")
	if err != nil {
		t.Fatalf("Transcode error: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("expected raw html to be omitted in safe mode, got %q", out)
	}
}

func TestTranscodeExtensionsAndHeadingIDs(t *testing.T) {
	tr := New(Options{Extensions: []string{"GFM", "unknown", "gfm"}, AutoHeadingID: true})
	out, err := tr.Transcode("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n~~gone~~\n")
	if err != nil {
		t.Fatalf("Transcode error: %v", err)
	}
	if !strings.Contains(out, `<h1 id="title">Title</h1>`) {
		t.Fatalf("expected heading id, got %q", out)
	}
	if !strings.Contains(out, "<table>") || !strings.Contains(out, "<del>gone</del>") {
		t.Fatalf("expected gfm table and strikethrough, got %q", out)
	}
}

func TestHTMLToMarkdown(t *testing.T) {
	md, err := HTMLToMarkdown("<h1>Hello</h1><p>World</p>", "example.com")
	if err != nil {
		t.Fatalf("HTMLToMarkdown error: %v", err)
	}
	if !strings.Contains(md, "# Hello") || !strings.Contains(md, "World") {
		t.Fatalf("unexpected markdown %q", md)
	}
}
