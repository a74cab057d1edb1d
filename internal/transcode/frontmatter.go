package transcode

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adrg/frontmatter"
)

// MaxFrontMatterLines bounds the scan for a closing delimiter.
const MaxFrontMatterLines = 256

const frontMatterDelimiter = "---"

// FrontMatter is a document split into its metadata block and body.
type FrontMatter struct {
	Metadata map[string]string
	Body     string
}

// ParseError reports a malformed front-matter block.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("front matter: %s (line %d)", e.Reason, e.Line)
}

var keyLine = regexp.MustCompile(`^([A-Za-z0-9_.-]+)\s*:`)

// blockFormat is the "---" delimited key/value block understood by
// ExtractFrontMatter.
var blockFormat = frontmatter.NewFormat(frontMatterDelimiter, frontMatterDelimiter, unmarshalBlock)

// ExtractFrontMatter splits a leading "---" delimited block of "key: value"
// lines from raw. Text without a leading delimiter is returned unchanged as
// the body. On a *ParseError the returned FrontMatter still holds the whole
// input as body so callers can treat the block as absent.
func ExtractFrontMatter(raw string) (FrontMatter, error) {
	unchanged := FrontMatter{Metadata: map[string]string{}, Body: raw}

	first, rest, found := strings.Cut(raw, "\n")
	if strings.TrimRight(first, "\r") != frontMatterDelimiter {
		return unchanged, nil
	}
	if !found {
		return unchanged, &ParseError{Line: 1, Reason: "missing closing delimiter"}
	}
	if err := checkClosed(rest); err != nil {
		return unchanged, err
	}

	meta := map[string]string{}
	body, err := frontmatter.Parse(strings.NewReader(raw), &meta, blockFormat)
	if err != nil {
		return unchanged, &ParseError{Line: 1, Reason: err.Error()}
	}
	return FrontMatter{Metadata: meta, Body: string(body)}, nil
}

// checkClosed makes sure a closing delimiter follows within
// MaxFrontMatterLines lines.
func checkClosed(rest string) error {
	for line := 2; ; line++ {
		if line > MaxFrontMatterLines {
			return &ParseError{Line: line, Reason: "block exceeds line limit"}
		}
		current, remainder, more := strings.Cut(rest, "\n")
		if strings.TrimSpace(current) == frontMatterDelimiter {
			return nil
		}
		if !more {
			return &ParseError{Line: line, Reason: "missing closing delimiter"}
		}
		rest = remainder
	}
}

func unmarshalBlock(data []byte, v any) error {
	meta, ok := v.(*map[string]string)
	if !ok {
		return fmt.Errorf("front matter: unsupported target %T", v)
	}
	*meta = parseBlock(strings.Split(string(data), "\n"))
	return nil
}

func parseBlock(lines []string) map[string]string {
	meta := map[string]string{}
	var (
		key   string
		value strings.Builder
	)
	flush := func() {
		if key != "" {
			meta[key] = strings.TrimSpace(value.String())
		}
		value.Reset()
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if keyLine.MatchString(line) {
			flush()
			k, v, _ := strings.Cut(line, ":")
			key = strings.TrimSpace(k)
			value.WriteString(strings.TrimSpace(v))
			continue
		}
		if key == "" || strings.TrimSpace(line) == "" {
			continue
		}
		if value.Len() > 0 {
			value.WriteString("\n")
		}
		value.WriteString(strings.TrimSpace(line))
	}
	flush()
	return meta
}
