/*
Package authsdk binds an authmanager.Manager to the BarTab authentication
service.

# Overview

NewOptions returns authmanager.Options for the service's OAuth2 endpoints:

  - sign-in: POST /v1/oauth2/authorize with username and password (PKCE S256),
    followed by the authorization_code grant at /v1/oauth2/token
  - refresh: the refresh_token grant at /v1/oauth2/token
  - user: GET /v1/userinfo (profile:read)
  - sign-out: POST /v1/oauth2/revoke with the refresh token

	client := transport.New(transport.Config{BaseURL: "https://auth.example.com"})
	m, err := authmanager.New(authsdk.NewOptions(client, authsdk.Config{
		ClientID: "cli-app",
		Scopes:   []string{"profile:read"},
	}))

	err = m.SignIn(ctx, authsdk.PasswordCredentials{Username: "alice", Password: "..."})

# Errors

Service errors are returned as *OAuth2Error, which carries the HTTP status.
The manager treats any 4xx as a credential rejection: a failed refresh with
invalid_grant ends the session, a 503 does not.

Accounts with MFA enabled fail sign-in with *MFARequiredError. Complete it by
signing in again with the challenge token:

	var mfa *authsdk.MFARequiredError
	if errors.As(err, &mfa) {
		err = m.SignIn(ctx, authsdk.PasswordCredentials{
			MFAToken:  mfa.MFAToken,
			MFAMethod: "totp",
			MFACode:   code,
		})
	}

The SDKClient methods are usable on their own for callers that manage tokens
themselves.
*/
package authsdk
