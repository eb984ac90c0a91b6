package authsdk

import (
	"context"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// NewOptions returns manager options bound to the BarTab service behind
// client. The same client becomes the manager's transport, so the refresh
// interceptor protects every request made through it.
//
// Sign-in runs the password authorization code flow with PKCE, sign-out
// revokes the refresh token and the user comes from /v1/userinfo.
func NewOptions(client *transport.Client, cfg Config) authmanager.Options[PasswordCredentials] {
	sdk := NewSDKClient(client, cfg)

	return authmanager.Options[PasswordCredentials]{
		Client: client,

		SignIn: func(ctx context.Context, creds PasswordCredentials, _ *authmanager.Manager[PasswordCredentials]) (authmanager.TokenResult, error) {
			tokens, err := sdk.SignInWithPassword(ctx, creds)
			if err != nil {
				return authmanager.TokenResult{}, err
			}
			return tokens.tokenResult(), nil
		},

		RefreshToken: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], refreshToken string) (authmanager.TokenResult, error) {
			tokens, err := sdk.RefreshGrant(ctx, refreshToken)
			if err != nil {
				return authmanager.TokenResult{}, err
			}
			res := tokens.tokenResult()
			if res.RefreshToken == "" {
				res.RefreshToken = refreshToken
			}
			return res, nil
		},

		GetUser: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], t authmanager.Tokens) (authmanager.User, error) {
			info, err := sdk.GetUserInfo(ctx, t.AccessToken)
			if err != nil {
				return nil, err
			}
			return info.user(), nil
		},

		// Access tokens expire on their own; only refresh tokens are revocable.
		SignOut: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], t authmanager.Tokens) error {
			if t.RefreshToken == "" {
				return nil
			}
			return sdk.RevokeToken(ctx, t.RefreshToken)
		},
	}
}
