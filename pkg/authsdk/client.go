package authsdk

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// DefaultRedirectURI is used when Config.RedirectURI is empty. The redirect
// is never followed; the SDK only reads the code from its Location header.
const DefaultRedirectURI = "http://localhost/callback"

// Config identifies the OAuth2 client registered with the BarTab service.
type Config struct {
	ClientID string

	// ClientSecret is only set for confidential clients.
	ClientSecret string

	// RedirectURI must match one registered for ClientID.
	RedirectURI string

	// Scopes requested at sign-in. Empty means the client's defaults.
	Scopes []string
}

// SDKClient talks to the BarTab authentication service over a
// transport.Client. Token, userinfo and revoke calls go through the given
// client so they share its interceptors and logging.
type SDKClient struct {
	cfg       Config
	client    *transport.Client
	authorize *transport.Client
}

// NewSDKClient binds cfg to client. client's BaseURL must point at the
// service root.
func NewSDKClient(client *transport.Client, cfg Config) *SDKClient {
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}

	// The authorize endpoint answers with a 302 carrying the code; a client
	// that follows redirects would chase it to RedirectURI.
	noRedirect := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &SDKClient{
		cfg:    cfg,
		client: client,
		authorize: transport.New(transport.Config{
			BaseURL:    client.BaseURL(),
			HTTPClient: noRedirect,
			Logger:     client.Logger(),
		}),
	}
}

// ClientID returns the configured client id.
func (c *SDKClient) ClientID() string { return c.cfg.ClientID }
