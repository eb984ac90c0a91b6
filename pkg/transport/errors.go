package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoResponse marks a ResponseError produced before any response arrived.
var ErrNoResponse = errors.New("transport: no response")

// ResponseError is returned for both transport failures and non-2xx statuses.
// Exactly one of Response or Err is set.
type ResponseError struct {
	Request  *Request
	Response *Response
	Err      error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	method, url := "", ""
	if e.Request != nil {
		method, url = e.Request.Method, e.Request.URL
	}
	if e.Response != nil {
		return fmt.Sprintf("%s %s: HTTP %d %s", method, url, e.Response.StatusCode, http.StatusText(e.Response.StatusCode))
	}
	return fmt.Sprintf("%s %s: %v", method, url, e.Err)
}

// Unwrap exposes the underlying transport error. Status errors unwrap to nil.
func (e *ResponseError) Unwrap() error {
	if e.Response != nil {
		return nil
	}
	if e.Err == nil {
		return ErrNoResponse
	}
	return e.Err
}

// HTTPStatusCode returns the response status, or 0 when no response arrived.
func (e *ResponseError) HTTPStatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// StatusCode extracts the HTTP status from err if it is (or wraps) a
// *ResponseError. It returns 0 otherwise.
func StatusCode(err error) int {
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		return rerr.HTTPStatusCode()
	}
	return 0
}
