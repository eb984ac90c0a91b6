package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Request is the request that produced this response.
	Request *Request
}

// DecodeJSON unmarshals the body into target.
func (r *Response) DecodeJSON(target any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("failed to decode response: empty body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
