package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/authkit/pkg/cryptox"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// PKCEChallenge holds an RFC 7636 verifier and its S256 challenge.
type PKCEChallenge struct {
	// Verifier stays with the client until the code exchange.
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCEChallenge creates a verifier with 256 bits of entropy.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: cryptox.S256Challenge(verifier),
		Method:    "S256",
	}, nil
}

// PasswordCredentials are the sign-in parameters for the password flow.
// When MFAToken is set the call completes a pending MFA challenge instead
// and Username/Password are ignored.
type PasswordCredentials struct {
	Username string
	Password string

	MFAToken  string
	MFAMethod string
	MFACode   string
}

// AuthorizeWithPassword posts credentials to /v1/oauth2/authorize and
// returns the authorization code from the redirect. A second factor
// requirement surfaces as *MFARequiredError.
func (c *SDKClient) AuthorizeWithPassword(
	ctx context.Context,
	creds PasswordCredentials,
	pkce *PKCEChallenge,
) (string, error) {
	data := url.Values{
		"response_type": {"code"},
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURI},
	}
	if creds.MFAToken != "" {
		data.Set("mfa_token", creds.MFAToken)
		data.Set("mfa_method", creds.MFAMethod)
		data.Set("mfa_code", creds.MFACode)
	} else {
		data.Set("username", creds.Username)
		data.Set("password", creds.Password)
	}
	if len(c.cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}
	if pkce != nil {
		data.Set("code_challenge", pkce.Challenge)
		data.Set("code_challenge_method", pkce.Method)
	}

	_, err := c.authorize.PostForm(ctx, "/v1/oauth2/authorize", data)
	if err == nil {
		return "", errors.New("authorize: expected a redirect, got 2xx")
	}

	var rerr *transport.ResponseError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return "", err
	}
	if rerr.Response.StatusCode != http.StatusFound {
		return "", parseErrorResponse(rerr.Response.StatusCode, rerr.Response.Body)
	}
	return codeFromRedirect(rerr.Response.Header.Get("Location"))
}

// codeFromRedirect extracts the code, or the error the service redirected
// with, from a Location header.
func codeFromRedirect(location string) (string, error) {
	if location == "" {
		return "", errors.New("redirect response missing Location header")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URL: %w", err)
	}

	q := u.Query()
	if code := q.Get("code"); code != "" {
		return code, nil
	}
	if ec := q.Get("error"); ec != "" {
		return "", NewOAuth2Error(redirectErrorStatus(ec), ec, q.Get("error_description"))
	}
	return "", errors.New("redirect missing authorization code")
}

// ExchangeAuthorizationCode trades a code for tokens.
func (c *SDKClient) ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {c.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	return c.requestToken(ctx, data)
}

// SignInWithPassword runs the whole authorization code flow with PKCE.
func (c *SDKClient) SignInWithPassword(ctx context.Context, creds PasswordCredentials) (*TokenResponse, error) {
	pkce, err := GeneratePKCEChallenge()
	if err != nil {
		return nil, err
	}

	code, err := c.AuthorizeWithPassword(ctx, creds, pkce)
	if err != nil {
		return nil, err
	}

	tokens, err := c.ExchangeAuthorizationCode(ctx, code, pkce.Verifier)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tokens, nil
}
