package resource

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Mode is the semantic request mode reported by the client.
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeOther    Mode = "other"
)

// CacheMode mirrors the fetch cache modes the pipeline cares about.
type CacheMode string

const (
	CacheDefault CacheMode = ""
	// CacheReload asks the fetcher to bypass any intermediate HTTP cache.
	CacheReload CacheMode = "reload"
)

// Request is the identity of an intercepted request. It is treated as
// immutable; rewrites go through Clone.
type Request struct {
	URL      *url.URL
	Mode     Mode
	Referrer string
	// Reload is an explicit reload hint from the interception layer. It only
	// counts for navigations.
	Reload bool
	Header http.Header
	Cache  CacheMode
}

// NewRequest parses rawURL and builds a request with the given mode.
func NewRequest(rawURL string, mode Mode) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeOther
	}
	return &Request{URL: u, Mode: mode, Header: http.Header{}}, nil
}

// IsNavigation reports whether the request is a document navigation.
func (r *Request) IsNavigation() bool {
	return r != nil && r.Mode == ModeNavigate
}

// IsReload reports whether the request is a navigation whose referrer is the
// requested document itself.
func (r *Request) IsReload() bool {
	if !r.IsNavigation() || r.URL == nil {
		return false
	}
	return r.Reload || r.Referrer == r.URL.String()
}

// Clone returns a deep copy so hooks can rewrite without touching the caller's
// view.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		out.URL = &u
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return &out
}

// Response is a fully buffered HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse builds a 200 response with the given body and a Content-Length
// header.
func NewResponse(body []byte, header http.Header) *Response {
	if header == nil {
		header = http.Header{}
	}
	resp := &Response{Status: http.StatusOK, Header: header, Body: body}
	resp.SetContentLength()
	return resp
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// SetContentLength rewrites Content-Length from the current body.
func (r *Response) SetContentLength() {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{Status: r.Status, Header: r.Header.Clone()}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
