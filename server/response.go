package server

import "net/http"

// Response is filled in by the engine and written out by the transport adapter.
// A Response with a Location header is a redirect; otherwise Body is rendered as JSON.
type Response struct {
	Status int
	Header http.Header
	Body   map[string]any
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: make(http.Header),
		Body:   make(map[string]any),
	}
}

// Redirect turns the response into a 302 to location.
func (r *Response) Redirect(location string) {
	r.Status = http.StatusFound
	r.Header.Set("Location", location)
}

// Location returns the redirect target, if any.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// IsRedirect reports whether the response is a redirect.
func (r *Response) IsRedirect() bool {
	return r.Location() != ""
}

func (r *Response) reset() {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if r.Body == nil {
		r.Body = make(map[string]any)
	}
}
