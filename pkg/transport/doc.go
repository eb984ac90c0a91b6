// Package transport is a small HTTP client with a response-interceptor
// pipeline and mutable default headers.
//
// It exists so that an auth session can attach a bearer credential to every
// outgoing request without per-call wiring, and so that a refresh handler can
// observe a 401, refresh the credential once, and replay the original request.
// Requests are fully buffered for that reason: a replay needs the body again.
//
// Basic usage:
//
//	c := transport.New(transport.Config{BaseURL: "https://api.example.com"})
//	c.SetDefaultHeader("Authorization", "Bearer "+token)
//
//	resp, err := c.Get(ctx, "/v1/things")
//	if err != nil {
//	    var rerr *transport.ResponseError
//	    if errors.As(err, &rerr) && rerr.HTTPStatusCode() == http.StatusNotFound {
//	        // ...
//	    }
//	    return err
//	}
//	var things []Thing
//	err = resp.DecodeJSON(&things)
//
// Non-2xx responses are turned into *ResponseError before any interceptor
// runs, so rejection handlers see both transport failures and HTTP error
// statuses.
package transport
