package http

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"mdview/internal/resource"
)

// requestFromCtx builds the identity of an inbound request as seen by the
// origin: the URL is rebased onto origin, the mode comes from the Fetch
// Metadata headers and a Referer pointing at this proxy is rebased too.
func requestFromCtx(c *fiber.Ctx, origin *url.URL) *resource.Request {
	target := rebase(origin, c.Path(), string(c.Request().URI().QueryString()))

	mode := resource.ModeOther
	if strings.EqualFold(c.Get("Sec-Fetch-Mode"), "navigate") || strings.EqualFold(c.Get("Sec-Fetch-Dest"), "document") {
		mode = resource.ModeNavigate
	}

	return &resource.Request{
		URL:      target,
		Mode:     mode,
		Referrer: referrer(c, origin),
		Header:   make(map[string][]string),
	}
}

func rebase(origin *url.URL, path, rawQuery string) *url.URL {
	u := *origin
	u.Path = strings.TrimSuffix(origin.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return &u
}

func referrer(c *fiber.Ctx, origin *url.URL) string {
	raw := c.Get(fiber.HeaderReferer)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil || !ref.IsAbs() {
		return raw
	}
	if !strings.EqualFold(ref.Host, string(c.Request().Host())) {
		return raw
	}
	return rebase(origin, ref.Path, ref.RawQuery).String()
}
