package server

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Request is an immutable snapshot of an incoming HTTP request. The engine only ever
// sees a Request, so it works the same behind any transport.
type Request struct {
	method   string
	header   http.Header
	query    url.Values
	body     url.Values
	clientIP string
}

// NewRequest builds a Request. Header names are canonicalised so lookups are
// case-insensitive; all maps are deep-copied.
func NewRequest(method string, header http.Header, query, body url.Values) (*Request, error) {
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}
	r := &Request{
		method: strings.ToUpper(method),
		header: make(http.Header, len(header)),
		query:  copyValues(query),
		body:   copyValues(body),
	}
	for name, values := range header {
		key := http.CanonicalHeaderKey(name)
		r.header[key] = append(r.header[key], values...)
	}
	return r, nil
}

// RequestFromHTTP snapshots an *http.Request. For form requests it calls ParseForm,
// which consumes the body of r.
func RequestFromHTTP(r *http.Request) (*Request, error) {
	if r == nil {
		return nil, fmt.Errorf("request is required")
	}
	var body url.Values
	if r.Method != http.MethodGet && isFormContentType(r.Header.Get("Content-Type")) {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		body = r.PostForm
	}
	return NewRequest(r.Method, r.Header, r.URL.Query(), body)
}

// WithClientIP returns a copy of r carrying the caller's address for audit logs.
func (r *Request) WithClientIP(ip string) *Request {
	cp := *r
	cp.clientIP = ip
	return &cp
}

// Method returns the upper-case HTTP method.
func (r *Request) Method() string { return r.method }

// Header returns the first value of the named header.
func (r *Request) Header(name string) string { return r.header.Get(name) }

// Query returns the first value of a query parameter.
func (r *Request) Query(key string) string { return r.query.Get(key) }

// Body returns the first value of a form body field.
func (r *Request) Body(key string) string { return r.body.Get(key) }

// ClientIP returns the address set with WithClientIP.
func (r *Request) ClientIP() string { return r.clientIP }

// IsForm reports whether the request carries an application/x-www-form-urlencoded body.
func (r *Request) IsForm() bool {
	return isFormContentType(r.Header("Content-Type"))
}

// param returns a body field, falling back to the query string. Authorization
// requests may use either.
func (r *Request) param(key string) string {
	if v := r.body.Get(key); v != "" {
		return v
	}
	return r.query.Get(key)
}

// repeated returns the first of keys sent more than once in either the query or
// the body, or "" when every key appears at most once in each.
func (r *Request) repeated(keys ...string) string {
	for _, key := range keys {
		if len(r.query[key]) > 1 || len(r.body[key]) > 1 {
			return key
		}
	}
	return ""
}

func isFormContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

func copyValues(v url.Values) url.Values {
	cp := make(url.Values, len(v))
	for key, values := range v {
		cp[key] = append([]string(nil), values...)
	}
	return cp
}
