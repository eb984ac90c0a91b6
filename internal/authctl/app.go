// Package authctl wires a session manager for the command line: it picks the
// provider binding and session store from configuration, restores any
// persisted session and exports session metrics.
package authctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/authkit/internal/mockauth"
	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/authsdk"
	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/file"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/memory"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/postgres"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/redis"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/sqlite"
	"github.com/aussiebroadwan/authkit/pkg/metrics"
	"github.com/aussiebroadwan/authkit/pkg/oauth2x"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Credentials are the provider-independent sign-in inputs. Username is the
// email for the mock provider.
type Credentials struct {
	Username string
	Password string

	MFAToken  string
	MFAMethod string
	MFACode   string
}

// Session is what the commands need from a manager, whatever its sign-in
// parameter type.
type Session interface {
	SignIn(ctx context.Context, c Credentials) error
	SignOut(ctx context.Context) error
	RefreshToken(ctx context.Context, token string) error
	UpdateUser(ctx context.Context, partial authmanager.User) error
	IsSignedIn() bool
	AuthData() authmanager.AuthData
	AuthorizationHeader() string
	Client() *transport.Client
	metrics.Source
}

type session[P any] struct {
	*authmanager.Manager[P]
	params func(Credentials) P
}

func (s *session[P]) SignIn(ctx context.Context, c Credentials) error {
	return s.Manager.SignIn(ctx, s.params(c))
}

// Application owns the store, the manager and the metrics registry for one
// CLI invocation.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store      kvstore.Store
	closeStore func() error

	session Session
	dispose func()

	registry *prometheus.Registry
	detach   func()
}

// New validates cfg, opens the store, builds the manager and restores the
// persisted session.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
		}),
		registry: prometheus.NewRegistry(),
	}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initSession(ctx); err != nil {
		if app.dispose != nil {
			app.dispose()
		}
		_ = app.closeStore()
		return nil, err
	}
	return app, nil
}

// Session returns the restored session.
func (app *Application) Session() Session { return app.session }

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Close writes the metrics textfile (when configured), disposes the manager
// and closes the store.
func (app *Application) Close() error {
	var errs []error

	if app.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(app.cfg.MetricsFile, app.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if app.detach != nil {
		app.detach()
	}
	if app.dispose != nil {
		app.dispose()
	}
	if app.closeStore != nil {
		if err := app.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (app *Application) initStore(ctx context.Context) error {
	noop := func() error { return nil }

	switch app.cfg.Store {
	case StoreMemory:
		app.store, app.closeStore = memory.New(), noop

	case StoreFile:
		s, err := file.Open(app.cfg.StoreDSN, app.logger)
		if err != nil {
			return fmt.Errorf("failed to open session file: %w", err)
		}
		app.store, app.closeStore = s, noop

	case StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(app.cfg.StoreDSN), 0o700); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
		s, err := sqlite.Open(app.cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("failed to open session database: %w", err)
		}
		app.store, app.closeStore = s, s.Close

	case StoreRedis:
		s, err := redis.Dial(ctx, app.cfg.StoreDSN, app.cfg.StorePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.store, app.closeStore = s, s.Close

	case StorePostgres:
		s, err := postgres.Connect(ctx, app.cfg.StoreDSN, app.cfg.StorePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		app.store, app.closeStore = s, func() error { s.Close(); return nil }

	default:
		return fmt.Errorf("unknown store %q", app.cfg.Store)
	}

	app.logger.Debug("session store opened", "store", app.cfg.Store)
	return nil
}

func (app *Application) initSession(ctx context.Context) error {
	httpClient := &http.Client{Timeout: app.cfg.Timeout}
	client := transport.New(transport.Config{
		BaseURL:    app.cfg.BaseURL,
		HTTPClient: httpClient,
		Headers:    map[string]string{"User-Agent": "authctl/" + BuildVersion},
		Logger:     app.logger,
	})

	switch app.cfg.Provider {
	case ProviderMock:
		return startSession(ctx, app, mockauth.NewOptions(client), func(c Credentials) mockauth.SignInParams {
			return mockauth.SignInParams{Email: c.Username, Password: c.Password}
		})

	case ProviderBarTab:
		opts := authsdk.NewOptions(client, authsdk.Config{
			ClientID:     app.cfg.ClientID,
			ClientSecret: app.cfg.ClientSecret,
			RedirectURI:  app.cfg.RedirectURI,
			Scopes:       app.cfg.Scopes,
		})
		return startSession(ctx, app, opts, func(c Credentials) authsdk.PasswordCredentials {
			return authsdk.PasswordCredentials{
				Username:  c.Username,
				Password:  c.Password,
				MFAToken:  c.MFAToken,
				MFAMethod: c.MFAMethod,
				MFACode:   c.MFACode,
			}
		})

	case ProviderOAuth2:
		base := strings.TrimRight(app.cfg.BaseURL, "/")
		tokenURL := app.cfg.TokenURL
		if tokenURL == "" {
			tokenURL = base + "/oauth2/token"
		}
		userInfoURL := app.cfg.UserInfoURL
		if userInfoURL == "" {
			userInfoURL = base + "/userinfo"
		}
		opts := oauth2x.NewOptions(oauth2x.Config{
			OAuth2: &oauth2.Config{
				ClientID:     app.cfg.ClientID,
				ClientSecret: app.cfg.ClientSecret,
				Scopes:       app.cfg.Scopes,
				Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			},
			UserInfoURL: userInfoURL,
			RevokeURL:   app.cfg.RevokeURL,
			HTTPClient:  httpClient,
			Client:      client,
		})
		return startSession(ctx, app, opts, func(c Credentials) oauth2x.PasswordCredentials {
			return oauth2x.PasswordCredentials{Username: c.Username, Password: c.Password}
		})

	default:
		return fmt.Errorf("unknown provider %q", app.cfg.Provider)
	}
}

// startSession creates the manager through a registry, instruments it and
// resumes the persisted session.
func startSession[P any](ctx context.Context, app *Application, opts authmanager.Options[P], params func(Credentials) P) error {
	opts.Store = app.store
	opts.Logger = app.logger

	reg := authmanager.NewRegistry[P]()
	reg.SetGlobalOptions(&authmanager.GlobalOptions[P]{Options: opts})
	m, err := reg.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	app.session = &session[P]{Manager: m, params: params}
	app.dispose = reg.Dispose

	met, err := metrics.New(app.registry)
	if err != nil {
		return err
	}
	detach, err := met.Instrument(m)
	if err != nil {
		return err
	}
	app.detach = detach

	if err := m.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	app.logger.Debug("session restored", "signed_in", m.IsSignedIn(), "provider", app.cfg.Provider)
	return nil
}
