// Package mockauth is a small token service for exercising session managers
// end to end: email sign-in, rotating JWT refresh tokens with sub-second
// lifetimes, a user endpoint and two protected resources.
package mockauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/authkit/pkg/cryptox"
	"github.com/aussiebroadwan/authkit/pkg/httpx"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

const (
	DefaultAccessTTL  = 300 * time.Millisecond
	DefaultRefreshTTL = time.Second

	ScopeFood  = "food:read"
	ScopeCards = "cards:read"
)

// User is a mock account. Users without a PasswordHash sign in by email
// alone.
type User struct {
	ID           int      `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	PasswordHash string   `json:"-"`
	Scopes       []string `json:"-"`
}

// DefaultUsers returns the single stock account.
func DefaultUsers() []User {
	return []User{{
		ID:     1,
		Email:  "test@example.com",
		Name:   "John Doe",
		Scopes: []string{ScopeFood, ScopeCards},
	}}
}

// Config configures a Server. Zero values select the defaults.
type Config struct {
	// Secret signs tokens. A random one is generated when empty.
	Secret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Users []User

	// Hasher verifies PasswordHash. Defaults to cryptox.NewHasher("").
	Hasher *cryptox.Hasher

	SignInLimit httpx.RateLimitConfig

	// BeforeRefresh runs at the start of every /refresh request.
	BeforeRefresh func()

	Logger *slog.Logger
}

// Server implements the mock API.
type Server struct {
	cfg     Config
	tokens  *tokenIssuer
	byEmail map[string]User
	byID    map[int]User
	logger  *slog.Logger
	now     func() time.Time

	refreshCalls atomic.Int64
	rejected     atomic.Int64
}

// New validates cfg and builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Users == nil {
		cfg.Users = DefaultUsers()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = cryptox.NewHasher("")
	}
	if cfg.SignInLimit.RequestsPerWindow <= 0 {
		cfg.SignInLimit = httpx.SignInLimit
	}
	if len(cfg.Secret) == 0 {
		secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return nil, fmt.Errorf("mockauth: generate secret: %w", err)
		}
		cfg.Secret = []byte(secret)
	}

	s := &Server{
		cfg:     cfg,
		tokens:  newTokenIssuer(cfg.Secret),
		byEmail: make(map[string]User, len(cfg.Users)),
		byID:    make(map[int]User, len(cfg.Users)),
		logger:  slogx.OrDefault(cfg.Logger),
		now:     time.Now,
	}
	for _, u := range cfg.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" {
			return nil, fmt.Errorf("mockauth: user %d has no email", u.ID)
		}
		if _, dup := s.byEmail[email]; dup {
			return nil, fmt.Errorf("mockauth: duplicate email %q", email)
		}
		s.byEmail[email] = u
		s.byID[u.ID] = u
	}
	return s, nil
}

// RefreshCalls counts /refresh requests, successful or not.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Rejected counts requests answered 401.
func (s *Server) Rejected() int64 { return s.rejected.Load() }

// Handler returns the routed API wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	authn := httpx.AuthnMiddleware(httpx.TokenVerifierFunc(s.verifyAccess))

	mux.Handle("POST /sign-in", httpx.Chain(http.HandlerFunc(s.handleSignIn), httpx.RateLimitByIP(s.cfg.SignInLimit)))
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /sign-out", s.handleSignOut)
	mux.Handle("GET /user", httpx.Chain(http.HandlerFunc(s.handleUser), authn))
	mux.Handle("GET /food", httpx.Chain(list("Pancakes", "Donuts", "Croissants"), authn, httpx.RequireAnyScope(ScopeFood)))
	mux.Handle("GET /cards", httpx.Chain(list("Dodge", "Mazda", "Ford"), authn, httpx.RequireAnyScope(ScopeCards)))
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return httpx.Chain(mux, slogx.HTTPMiddleware(s.logger), s.countRejected)
}

// TokenPair is the body of successful /sign-in and /refresh responses.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // access token expiry, unix ms
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req signInRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(req.Email))]
	if !ok {
		log.InfoContext(ctx, "mock_sign_in_rejected", "reason", "unknown_email")
		writeMessage(w, http.StatusBadRequest, "Invalid email")
		return
	}
	if u.PasswordHash != "" {
		if err := s.cfg.Hasher.Verify(req.Password, u.PasswordHash); err != nil {
			log.InfoContext(ctx, "mock_sign_in_rejected", "reason", "bad_password", "user_id", u.ID)
			writeMessage(w, http.StatusBadRequest, "Invalid password")
			return
		}
	}

	s.writePair(w, r, u)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.cfg.BeforeRefresh != nil {
		s.cfg.BeforeRefresh()
	}

	ctx := r.Context()
	now := s.now()

	var req tokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.tokens.verify(req.Token, tokenRefresh, now)
	if err != nil {
		slogx.FromContext(ctx).InfoContext(ctx, "mock_refresh_rejected", "err", err)
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	u, ok := s.userFor(c)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Refresh tokens rotate: the presented one is spent.
	s.tokens.revoke(c, now)
	s.writePair(w, r, u)
}

// handleSignOut revokes the presented refresh token. Unknown or expired
// tokens are accepted silently.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	var req tokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if c, err := s.tokens.verify(req.Token, tokenRefresh, now); err == nil {
		s.tokens.revoke(c, now)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	p, _ := httpx.PrincipalFromContext(r.Context())
	c, _ := p.Claims["claims"].(*claims)
	u, ok := s.userFor(c)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) verifyAccess(raw string) (httpx.Principal, error) {
	c, err := s.tokens.verify(raw, tokenAccess, s.now())
	if err != nil {
		return httpx.Principal{}, err
	}
	if _, ok := s.userFor(c); !ok {
		return httpx.Principal{}, errors.New("mockauth: unknown user")
	}
	return httpx.Principal{
		Subject: c.Subject,
		Scopes:  c.Scopes,
		Claims:  map[string]any{"claims": c},
	}, nil
}

func (s *Server) userFor(c *claims) (User, bool) {
	if c == nil {
		return User{}, false
	}
	id, err := c.userID()
	if err != nil {
		return User{}, false
	}
	u, ok := s.byID[id]
	return u, ok
}

func (s *Server) writePair(w http.ResponseWriter, r *http.Request, u User) {
	ctx := r.Context()
	now := s.now()

	access, exp, err := s.tokens.issue(u, tokenAccess, s.cfg.AccessTTL, now)
	if err != nil {
		slogx.FromContext(ctx).ErrorContext(ctx, "mock_issue_failed", "err", err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}
	refresh, _, err := s.tokens.issue(u, tokenRefresh, s.cfg.RefreshTTL, now)
	if err != nil {
		slogx.FromContext(ctx).ErrorContext(ctx, "mock_issue_failed", "err", err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp.UnixMilli(),
	})
}

func (s *Server) countRejected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&statusRecorder{ResponseWriter: w, onStatus: func(code int) {
			if code == http.StatusUnauthorized {
				s.rejected.Add(1)
			}
		}}, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	onStatus func(int)
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.onStatus(code)
	sr.ResponseWriter.WriteHeader(code)
}

func list(items ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, items)
	})
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	httpx.WriteJSON(w, code, map[string]string{"message": msg})
}
