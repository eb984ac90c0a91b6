package authmanager

import (
	"errors"
	"net/http"
)

var (
	// ErrDisposed is returned by every operation on a disposed Manager.
	ErrDisposed = errors.New("authmanager: instance disposed")

	// ErrNotInitialized is returned by Registry.TryGet before a Manager exists.
	ErrNotInitialized = errors.New("authmanager: not initialized")

	// ErrNoGlobalOptions is returned by Registry.Get before SetGlobalOptions.
	ErrNoGlobalOptions = errors.New("authmanager: global options not set")

	// ErrInvalidOptions is returned when required Options fields are missing.
	ErrInvalidOptions = errors.New("authmanager: invalid options")

	// ErrReentrant is returned when an Options hook calls SignIn, SignOut or
	// RefreshToken with the context of the operation it is serving.
	ErrReentrant = errors.New("authmanager: operation started from within a pending operation")
)

// StatusCoder is implemented by errors that carry an HTTP status, such as
// transport.ResponseError and authsdk.OAuth2Error.
type StatusCoder interface {
	HTTPStatusCode() int
}

// IsCredentialRejected reports whether any error in err's chain carries a 4xx
// status. A rejected refresh ends the session; anything else is transient.
func IsCredentialRejected(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.HTTPStatusCode()
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
