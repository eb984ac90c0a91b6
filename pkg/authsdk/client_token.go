package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/authkit/pkg/refresh"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// RefreshGrant requests new tokens using a refresh token. The service
// rotates refresh tokens, so the returned pair replaces the old one.
func (c *SDKClient) RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
	}
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}
	return c.requestToken(ctx, data)
}

// RevokeToken revokes a refresh token. The service answers 200 for unknown
// tokens too.
func (c *SDKClient) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{
		"token":     {token},
		"client_id": {c.cfg.ClientID},
	}
	if _, err := c.client.PostForm(ctx, "/v1/oauth2/revoke", data); err != nil {
		return parseError(err)
	}
	return nil
}

// GetUserInfo loads the user for accessToken. The header is set explicitly
// because the session is not signed in yet when this runs during sign-in.
func (c *SDKClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	req := transport.NewRequest(ctx, http.MethodGet, "/v1/userinfo", nil)
	req.Header.Set(refresh.AuthorizationHeader, "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, parseError(err)
	}

	var info UserInfoResponse
	if err := resp.DecodeJSON(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.client.PostForm(ctx, "/v1/oauth2/token", data)
	if err != nil {
		return nil, parseError(err)
	}

	var tokens TokenResponse
	if err := resp.DecodeJSON(&tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tokens, nil
}
