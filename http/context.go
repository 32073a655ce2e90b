package http

import (
	"net/http"
	"strings"
)

// RequestContext is the generic view of an incoming HTTP request the
// resource service consumes, so framework shims only need a thin adapter.
type RequestContext interface {
	Method() string
	Path() string
	Header(name string) string
	URL() string
	Accept() string
	UserAgent() string
}

// stdRequestContext adapts a *net/http.Request.
type stdRequestContext struct {
	req *http.Request
}

// NewRequestContext wraps a standard library request.
func NewRequestContext(req *http.Request) RequestContext {
	return &stdRequestContext{req: req}
}

func (c *stdRequestContext) Method() string { return c.req.Method }

func (c *stdRequestContext) Path() string { return c.req.URL.Path }

func (c *stdRequestContext) Header(name string) string { return c.req.Header.Get(name) }

func (c *stdRequestContext) URL() string {
	if c.req.URL.IsAbs() {
		return c.req.URL.String()
	}
	scheme := "https"
	if c.req.TLS == nil {
		scheme = "http"
	}
	host := c.req.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host + c.req.URL.Path
}

func (c *stdRequestContext) Accept() string { return c.req.Header.Get("Accept") }

func (c *stdRequestContext) UserAgent() string { return c.req.Header.Get("User-Agent") }

// isWebBrowser reports whether the request likely comes from an interactive
// browser, which gets the HTML paywall instead of a bare 402.
func isWebBrowser(rc RequestContext) bool {
	return strings.Contains(rc.Accept(), "text/html") &&
		strings.Contains(rc.UserAgent(), "Mozilla")
}
