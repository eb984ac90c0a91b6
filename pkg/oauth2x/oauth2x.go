// Package oauth2x binds an authmanager.Manager to any OAuth2 server that
// supports the resource owner password grant, using golang.org/x/oauth2.
package oauth2x

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// PasswordCredentials are the sign-in parameters.
type PasswordCredentials struct {
	Username string
	Password string
}

// Config describes the server.
type Config struct {
	OAuth2 *oauth2.Config

	// UserInfoURL returns the user as a JSON object. Required.
	UserInfoURL string

	// RevokeURL is an RFC 7009 endpoint. Empty disables remote sign-out.
	RevokeURL string

	// HTTPClient is used for every call to the server. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Client becomes the manager's transport.
	Client *transport.Client
}

// RetrieveError wraps a failed token exchange with its HTTP status.
type RetrieveError struct {
	Err *oauth2.RetrieveError
}

func (e *RetrieveError) Error() string { return e.Err.Error() }
func (e *RetrieveError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the token endpoint's status, or 0 if unknown.
func (e *RetrieveError) HTTPStatusCode() int {
	if e.Err.Response == nil {
		return 0
	}
	return e.Err.Response.StatusCode
}

// StatusError is a non-2xx answer from the userinfo or revoke endpoint.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// HTTPStatusCode returns the status.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// NewOptions returns manager options for cfg.
func NewOptions(cfg Config) authmanager.Options[PasswordCredentials] {
	p := &provider{cfg: cfg}

	return authmanager.Options[PasswordCredentials]{
		Client: cfg.Client,

		SignIn: func(ctx context.Context, creds PasswordCredentials, _ *authmanager.Manager[PasswordCredentials]) (authmanager.TokenResult, error) {
			tok, err := cfg.OAuth2.PasswordCredentialsToken(p.ctx(ctx), creds.Username, creds.Password)
			if err != nil {
				return authmanager.TokenResult{}, wrap(err)
			}
			return tokenResult(tok, ""), nil
		},

		RefreshToken: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], refreshToken string) (authmanager.TokenResult, error) {
			// An empty access token forces the source to refresh.
			tok, err := cfg.OAuth2.TokenSource(p.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return authmanager.TokenResult{}, wrap(err)
			}
			return tokenResult(tok, refreshToken), nil
		},

		GetUser: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], t authmanager.Tokens) (authmanager.User, error) {
			return p.userInfo(ctx, t.AccessToken)
		},

		SignOut: func(ctx context.Context, _ *authmanager.Manager[PasswordCredentials], t authmanager.Tokens) error {
			if cfg.RevokeURL == "" || t.RefreshToken == "" {
				return nil
			}
			return p.revoke(ctx, t.RefreshToken)
		},
	}
}

type provider struct {
	cfg Config
}

// ctx routes x/oauth2's own requests through the configured client.
func (p *provider) ctx(ctx context.Context) context.Context {
	if p.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
}

func (p *provider) httpClient() *http.Client {
	if p.cfg.HTTPClient != nil {
		return p.cfg.HTTPClient
	}
	return http.DefaultClient
}

func (p *provider) userInfo(ctx context.Context, accessToken string) (authmanager.User, error) {
	hc := oauth2.NewClient(p.ctx(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: p.cfg.UserInfoURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var user authmanager.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return user, nil
}

func (p *provider) revoke(ctx context.Context, token string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
		"client_id":       {p.cfg.OAuth2.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.cfg.OAuth2.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(p.cfg.OAuth2.ClientID), url.QueryEscape(p.cfg.OAuth2.ClientSecret))
	}

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: p.cfg.RevokeURL, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func wrap(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &RetrieveError{Err: rerr}
	}
	return err
}

// tokenResult keeps the previous refresh token when the server does not
// rotate it.
func tokenResult(tok *oauth2.Token, previousRefresh string) authmanager.TokenResult {
	rt := tok.RefreshToken
	if rt == "" {
		rt = previousRefresh
	}

	extra := map[string]any{"token_type": tok.Type()}
	if !tok.Expiry.IsZero() {
		extra["expiry"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		extra["scope"] = scope
	}

	return authmanager.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: rt,
		Extra:        extra,
	}
}
