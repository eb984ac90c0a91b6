package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/authkit/pkg/httpx"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// ============================================================================
// OAuth2 Error Codes (RFC 6749)
// ============================================================================

const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeServerError          = "server_error"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeMFARequired          = "mfa_required"
	ErrorCodeLoginRequired        = "login_required"
	ErrorCodeAccessDenied         = "access_denied"
)

// ============================================================================
// OAuth2Error
// ============================================================================

// OAuth2Error is an RFC 6749 error response. It reports its HTTP status via
// HTTPStatusCode, so 4xx errors count as credential rejections in
// authmanager.
type OAuth2Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// HTTPStatusCode returns the status the service answered with.
func (e *OAuth2Error) HTTPStatusCode() int { return e.StatusCode }

// WriteError writes e as an OAuth2 JSON error response. Test servers and the
// mock backend use it to speak the same dialect as the real service.
func (e *OAuth2Error) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

var (
	ErrInvalidRequest = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrInvalidClient = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidClient,
		Description: "invalid client",
	}

	// ErrInvalidGrant covers bad credentials and expired, revoked or foreign
	// refresh tokens.
	ErrInvalidGrant = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidGrant,
		Description: "invalid credentials",
	}

	ErrInvalidToken = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid, expired or revoked",
	}

	ErrServerError = &OAuth2Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// NewOAuth2Error creates an OAuth2Error.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// redirectErrorStatus maps an error code delivered in an authorize redirect
// to the status the service would have used for a JSON response.
func redirectErrorStatus(code string) int {
	switch code {
	case ErrorCodeInvalidGrant, ErrorCodeInvalidClient, ErrorCodeLoginRequired:
		return http.StatusUnauthorized
	case ErrorCodeServerError:
		return http.StatusInternalServerError
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// ============================================================================
// MFA
// ============================================================================

// MFARequiredError is returned when the account needs a second factor. The
// service answers 409 Conflict, which authmanager reports as a failed sign-in.
type MFARequiredError struct {
	MFAToken string   `json:"mfa_token"`
	Methods  []string `json:"mfa_methods"`
}

// Error implements the error interface.
func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

// HTTPStatusCode reports 409.
func (e *MFARequiredError) HTTPStatusCode() int { return http.StatusConflict }

// ============================================================================
// Error Parsing
// ============================================================================

// parseError converts a transport failure into a typed error. Status errors
// become *OAuth2Error or *MFARequiredError; network failures are wrapped
// unchanged so they stay transient.
func parseError(err error) error {
	var rerr *transport.ResponseError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return err
	}
	return parseErrorResponse(rerr.Response.StatusCode, rerr.Response.Body)
}

func parseErrorResponse(status int, body []byte) error {
	if status == http.StatusConflict {
		var mfa struct {
			Error      string   `json:"error"`
			MFAToken   string   `json:"mfa_token"`
			MFAMethods []string `json:"mfa_methods"`
		}
		if err := json.Unmarshal(body, &mfa); err == nil && mfa.Error == ErrorCodeMFARequired && mfa.MFAToken != "" {
			return &MFARequiredError{MFAToken: mfa.MFAToken, Methods: mfa.MFAMethods}
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{StatusCode: status, Code: errResp.Error, Description: errResp.ErrorDescription}
	}

	var valErr ValidationErrorResponse
	if err := json.Unmarshal(body, &valErr); err == nil && valErr.Code != "" {
		return &OAuth2Error{StatusCode: status, Code: valErr.Code, Description: valErr.Message}
	}

	return &OAuth2Error{
		StatusCode:  status,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)),
	}
}
