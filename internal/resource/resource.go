// Package resource defines the request and response values exchanged between
// the agent, the cache namespaces and the network.
//
// Responses are plain values (status, header, fully-read body) so they can be
// stored, cloned and replayed any number of times.
package resource

import (
	"net/http"
)

// Request is a resource request as seen by the agent.
//
// BypassCache asks the network layer to skip any intermediate HTTP cache and
// revalidate with the origin (the "reload" cache mode).
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	BypassCache bool
}

// NewGet returns a GET request for url.
func NewGet(url string) *Request {
	return &Request{Method: http.MethodGet, URL: url, Header: http.Header{}}
}

// Response is a fully-buffered response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Complete reports whether r is a 2xx answer carrying the whole resource.
// A 206 Partial Content body is only a slice of it and must never be cached.
func (r *Response) Complete() bool {
	return r.OK() && r.Status != http.StatusPartialContent
}

// ContentType returns the Content-Type header, if any.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Clone returns a deep copy. Stores clone on the way in and on the way out so
// callers never share buffers with cached entries.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{Status: r.Status, Header: r.Header.Clone()}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return out
}
