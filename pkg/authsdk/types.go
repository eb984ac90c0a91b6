package authsdk

import (
	"strings"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the RFC 6749 error body. Callers see *OAuth2Error instead.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ValidationErrorResponse is the body of a request validation failure.
type ValidationErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is returned by POST /v1/oauth2/token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int    `json:"expires_in"`
	Scope     string `json:"scope,omitempty"`
}

// Scopes splits the space-delimited scope string.
func (t *TokenResponse) Scopes() []string {
	return strings.Fields(t.Scope)
}

// tokenResult maps the response onto the manager's token record. Everything
// besides the token pair travels in Extra and is persisted as auth data.
func (t *TokenResponse) tokenResult() authmanager.TokenResult {
	extra := map[string]any{
		"token_type": t.TokenType,
		"expires_in": t.ExpiresIn,
	}
	if t.Scope != "" {
		extra["scope"] = t.Scope
	}
	return authmanager.TokenResult{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Extra:        extra,
	}
}

// ============================================================================
// User Types
// ============================================================================

// UserInfoResponse is returned by GET /v1/userinfo. Requires profile:read.
type UserInfoResponse struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	PreferredName string `json:"preferred_name"`
	Role          string `json:"role"`
}

// user converts the response to the manager's opaque user record, keeping
// the wire field names.
func (u *UserInfoResponse) user() authmanager.User {
	return authmanager.User{
		"user_id":        u.UserID,
		"username":       u.Username,
		"preferred_name": u.PreferredName,
		"role":           u.Role,
	}
}
