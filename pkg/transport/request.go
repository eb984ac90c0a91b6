package transport

import (
	"context"
	"net/http"
	"slices"
)

// Request is a buffered outgoing request. URL may be absolute or a path
// relative to the client's BaseURL.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	ctx   context.Context
	retry bool
}

// NewRequest builds a request bound to ctx.
func NewRequest(ctx context.Context, method, url string, body []byte) *Request {
	return &Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Body:   body,
		ctx:    ctx,
	}
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r bound to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Clone returns a deep copy of r, including the retry tag.
func (r *Request) Clone() *Request {
	r2 := *r
	r2.Header = r.Header.Clone()
	if r2.Header == nil {
		r2.Header = make(http.Header)
	}
	r2.Body = slices.Clone(r.Body)
	return &r2
}

// MarkRetry tags r as a replay of an earlier request.
func (r *Request) MarkRetry() { r.retry = true }

// IsRetry reports whether r was tagged with MarkRetry.
func (r *Request) IsRetry() bool { return r.retry }
