package mockauth

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/refresh"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// SignInParams are the sign-in parameters the mock accepts.
type SignInParams struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// NewOptions binds a manager to a mock server reachable through client.
// Every call goes through the manager's own transport.
func NewOptions(client *transport.Client) authmanager.Options[SignInParams] {
	return authmanager.Options[SignInParams]{
		Client: client,

		SignIn: func(ctx context.Context, p SignInParams, m *authmanager.Manager[SignInParams]) (authmanager.TokenResult, error) {
			return postPair(ctx, m.Client(), "/sign-in", p)
		},

		RefreshToken: func(ctx context.Context, m *authmanager.Manager[SignInParams], token string) (authmanager.TokenResult, error) {
			return postPair(ctx, m.Client(), "/refresh", tokenRequest{Token: token})
		},

		GetUser: func(ctx context.Context, m *authmanager.Manager[SignInParams], t authmanager.Tokens) (authmanager.User, error) {
			req := transport.NewRequest(ctx, http.MethodGet, "/user", nil)
			req.Header.Set(refresh.AuthorizationHeader, "Bearer "+t.AccessToken)

			resp, err := m.Client().Do(req)
			if err != nil {
				return nil, err
			}
			var u authmanager.User
			if err := resp.DecodeJSON(&u); err != nil {
				return nil, err
			}
			return u, nil
		},

		SignOut: func(ctx context.Context, m *authmanager.Manager[SignInParams], t authmanager.Tokens) error {
			if t.RefreshToken == "" {
				return nil
			}
			_, err := m.Client().PostJSON(ctx, "/sign-out", tokenRequest{Token: t.RefreshToken})
			return err
		},
	}
}

func postPair(ctx context.Context, c *transport.Client, path string, body any) (authmanager.TokenResult, error) {
	resp, err := c.PostJSON(ctx, path, body)
	if err != nil {
		return authmanager.TokenResult{}, err
	}

	var pair TokenPair
	if err := resp.DecodeJSON(&pair); err != nil {
		return authmanager.TokenResult{}, err
	}
	if pair.AccessToken == "" {
		return authmanager.TokenResult{}, errors.New("mockauth: response missing accessToken")
	}
	return authmanager.TokenResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Extra:        map[string]any{"expiresAt": pair.ExpiresAt},
	}, nil
}
