package authmanager

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// User is an opaque JSON object describing the signed-in user.
type User map[string]any

// Clone returns a shallow copy; nil stays nil.
func (u User) Clone() User {
	if u == nil {
		return nil
	}
	return maps.Clone(u)
}

// Tokens is a credential pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenResult is what a sign-in or refresh exchange yields. Extra holds any
// additional fields the service returned (expiry, scope, token type) and is
// persisted verbatim as the session's auth data.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	Extra        map[string]any
}

// StorageKeys names the store entries a Manager owns. Managers sharing a store
// must use distinct keys.
type StorageKeys struct {
	AccessToken  string
	RefreshToken string
	User         string
	AuthData     string
}

// DefaultStorageKeys returns the keys used when Options.StorageKeys is zero.
func DefaultStorageKeys() StorageKeys {
	return StorageKeys{
		AccessToken:  "@authkit/accessToken",
		RefreshToken: "@authkit/refreshToken",
		User:         "@authkit/user",
		AuthData:     "@authkit/authData",
	}
}

func (k StorageKeys) withDefaults() StorageKeys {
	d := DefaultStorageKeys()
	if k.AccessToken == "" {
		k.AccessToken = d.AccessToken
	}
	if k.RefreshToken == "" {
		k.RefreshToken = d.RefreshToken
	}
	if k.User == "" {
		k.User = d.User
	}
	if k.AuthData == "" {
		k.AuthData = d.AuthData
	}
	return k
}

func (k StorageKeys) all() []string {
	return []string{k.AccessToken, k.RefreshToken, k.User, k.AuthData}
}

// Options binds a Manager to a remote authentication service. P is the
// sign-in parameter type (credentials, an OAuth code, ...).
//
// The Manager never talks to the service itself; it only calls these
// functions. Errors implementing StatusCoder with a 4xx status are treated
// as credential rejections.
type Options[P any] struct {
	// SignIn exchanges params for tokens. Required.
	SignIn func(ctx context.Context, params P, m *Manager[P]) (TokenResult, error)

	// SignOut revokes the session remotely. Optional. It receives the tokens
	// that were just cleared and is only called when an access token existed.
	SignOut func(ctx context.Context, m *Manager[P], tokens Tokens) error

	// RefreshToken exchanges a refresh token for new tokens. Required.
	RefreshToken func(ctx context.Context, m *Manager[P], refreshToken string) (TokenResult, error)

	// GetUser loads the user for freshly issued tokens. Required. The session
	// is not signed in yet when it runs, so implementations must authenticate
	// with tokens explicitly.
	GetUser func(ctx context.Context, m *Manager[P], tokens Tokens) (User, error)

	// BuildAuthorizationHeader returns the Authorization header for the
	// current session, "" for none. Defaults to "Bearer <access token>".
	BuildAuthorizationHeader func(m *Manager[P]) string

	// Store persists the session. Defaults to an in-memory store.
	Store kvstore.Store

	// Client is the transport the refresh interceptor is installed on and
	// whose default Authorization header tracks the session. Defaults to a
	// new client.
	Client *transport.Client

	StorageKeys StorageKeys

	// SignOutOnTransientRefreshFailure ends the session when a refresh fails
	// for a reason other than credential rejection (network error, 5xx).
	// By default such failures leave the session untouched.
	SignOutOnTransientRefreshFailure bool

	// MaxListeners caps listeners per event kind to surface leaks. Zero
	// disables the check.
	MaxListeners int

	Logger *slog.Logger
}

func (o Options[P]) validate() error {
	var errs []error
	if o.SignIn == nil {
		errs = append(errs, errors.New("SignIn is required"))
	}
	if o.RefreshToken == nil {
		errs = append(errs, errors.New("RefreshToken is required"))
	}
	if o.GetUser == nil {
		errs = append(errs, errors.New("GetUser is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidOptions}, errs...)...)
}

// SignedInState hydrates a Manager that is already signed in.
type SignedInState struct {
	AccessToken  string
	RefreshToken string
	User         User
	AuthData     map[string]any
}

// AuthData is a consistent snapshot of the session for rendering.
type AuthData struct {
	AccessToken  string
	RefreshToken string
	User         User
	Extra        map[string]any
	IsSignedIn   bool
}
