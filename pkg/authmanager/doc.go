// Package authmanager is a client-side authentication session manager.
//
// A Manager holds one session: signed-in flag, access and refresh tokens, the
// user record and any extra auth data the service returned. It talks to the
// remote service only through the functions in Options, persists the session
// to a kvstore.Store, and keeps the Authorization default header of its
// transport.Client in sync with the session. A refresh.Handler installed on
// that client turns 401 responses into one shared refresh and a single retry
// per failed request.
//
// # Serialisation
//
// SignIn, SignOut and RefreshToken share a single pending slot. An operation
// started while another is in flight waits for it to settle, then re-checks
// whether its goal was already reached (signed in for SignIn and
// RefreshToken, signed out for SignOut) and returns without a remote call if
// so. N concurrent SignIn calls therefore reach the service once.
//
// # Events
//
// Transitions emit typed events in a fixed order:
//
//	sign-in:  AuthStateChanged, SignedIn, UserChanged
//	refresh:  AuthStateChanged, TokenRefreshed, UserChanged
//	sign-out: AuthStateChanged, SignedOut, UserChanged
//
// Subscribe with the On* helpers or with Subscribe for a type-switchable
// stream. Listeners run synchronously on the goroutine that caused the event,
// after the operation that raised them has released the pending slot, so a
// listener may itself call SignIn, SignOut or RefreshToken, or send requests
// through Client.
//
// # Failures
//
// SignIn returns its error. RefreshToken never returns a refresh failure: a
// credential rejection (any 4xx, see IsCredentialRejected) ends the session,
// other failures leave it as it was. Watch TokenRefreshFailedEvent and the
// state events instead of RefreshToken's return value.
//
// Basic usage:
//
//	m, err := authmanager.New(authsdk.NewOptions(client, authsdk.Config{ClientID: "my-app"}))
//	if err != nil {
//	    return err
//	}
//	defer m.Dispose()
//
//	_ = m.Restore(ctx) // resume a persisted session, if any
//	if !m.IsSignedIn() {
//	    err = m.SignIn(ctx, authsdk.PasswordCredentials{Username: u, Password: p})
//	}
package authmanager
