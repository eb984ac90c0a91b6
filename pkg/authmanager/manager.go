package authmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/aussiebroadwan/authkit/pkg/eventbus"
	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/memory"
	"github.com/aussiebroadwan/authkit/pkg/refresh"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

// Manager owns one authentication session. It is safe for concurrent use.
type Manager[P any] struct {
	opts      Options[P]
	store     kvstore.Store
	client    *transport.Client
	keys      StorageKeys
	logger    *slog.Logger
	bus       *eventbus.Bus[EventKind, Event]
	refresher *refresh.Handler

	mu           sync.Mutex
	signedIn     bool
	accessToken  string
	refreshToken string
	user         User
	extra        map[string]any
	pending      *pendingOp
	initial      *pendingOp
	disposed     bool

	announcedPending bool
}

// New creates a signed-out Manager and installs the refresh interceptor on
// its transport.
func New[P any](opts Options[P]) (*Manager[P], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	m := &Manager[P]{
		opts:   opts,
		store:  opts.Store,
		client: opts.Client,
		keys:   opts.StorageKeys.withDefaults(),
		logger: slogx.OrDefault(opts.Logger),
		bus:    eventbus.New[EventKind, Event](),
	}
	if m.store == nil {
		m.store = memory.New()
	}
	if m.client == nil {
		m.client = transport.New(transport.Config{Logger: m.logger})
	}
	m.bus.SetMaxListeners(opts.MaxListeners)

	h, err := refresh.New(refresh.Params{
		Client: m.client,
		ForceRefreshToken: func(ctx context.Context) error {
			return m.RefreshToken(ctx, "")
		},
		AuthorizationHeader: m.AuthorizationHeader,
		IsSignedIn:          m.IsSignedIn,
		SignOut:             m.SignOut,
		Logger:              m.logger,
	})
	if err != nil {
		return nil, err
	}
	m.refresher = h
	return m, nil
}

// NewSignedIn creates a Manager that starts signed in with the given state.
// Nothing is persisted and no remote call is made.
func NewSignedIn[P any](opts Options[P], state SignedInState) (*Manager[P], error) {
	m, err := New(opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.signedIn = true
	m.accessToken = state.AccessToken
	m.refreshToken = state.RefreshToken
	m.user = state.User.Clone()
	if m.user == nil {
		m.user = User{}
	}
	m.extra = maps.Clone(state.AuthData)
	m.mu.Unlock()

	m.refresher.UpdateAuthHeader(m.AuthorizationHeader())
	return m, nil
}

func (m *Manager[P]) log(ctx context.Context) *slog.Logger {
	return slogx.FromContext(ctx, m.logger)
}

// ============================================================================
// Operations
// ============================================================================

// SignIn authenticates with params. It does nothing when already signed in,
// and when racing another operation that ends signed in. Failures emit
// SignInFailedEvent, leave the session signed out and are returned.
func (m *Manager[P]) SignIn(ctx context.Context, params P) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.signedIn {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.withPending(ctx, "sign_in", func() bool { return m.signedIn }, func(ctx context.Context) error {
		res, err := m.opts.SignIn(ctx, params, m)
		if err == nil {
			err = m.establish(ctx, res, false)
		}
		if err == nil {
			m.log(ctx).InfoContext(ctx, "auth_signed_in")
			return nil
		}
		if errors.Is(err, ErrDisposed) {
			return err
		}

		m.log(ctx).WarnContext(ctx, "auth_sign_in_failed", "err", err, "rejected", IsCredentialRejected(err))
		m.emitFrom(ctx, SignInFailedEvent{Err: err})
		return err
	})
}

// SignOut ends the session. It returns immediately when already signed out,
// without waiting for an in-flight operation. The remote SignOut runs only if
// an access token was held; its error is returned after the session has been
// cleared locally and the sign-out events emitted.
func (m *Manager[P]) SignOut(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if !m.signedIn {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.withPending(ctx, "sign_out", func() bool { return !m.signedIn }, func(ctx context.Context) error {
		return m.endSession(ctx, false)
	})
}

// RefreshToken exchanges a refresh token for new credentials. token may be
// empty, in which case the session's refresh token is used, then the
// persisted one; with none available it does nothing.
//
// Refresh failures are never returned. A rejected refresh (4xx) ends the
// session; any other failure leaves it as it was unless
// SignOutOnTransientRefreshFailure is set. Observe TokenRefreshFailedEvent or
// the state events to react to failures. Only ErrDisposed, ErrReentrant and
// context errors are returned.
func (m *Manager[P]) RefreshToken(ctx context.Context, token string) error {
	if m.IsDisposed() {
		return ErrDisposed
	}

	return m.withPending(ctx, "refresh", func() bool { return m.signedIn }, func(ctx context.Context) error {
		log := m.log(ctx)

		if token == "" {
			token = m.RefreshTokenValue()
		}
		if token == "" {
			token = m.persistedRefreshToken(ctx)
		}
		if token == "" {
			log.DebugContext(ctx, "auth_refresh_skipped", "reason", "no_refresh_token")
			return nil
		}

		res, err := m.opts.RefreshToken(ctx, m, token)
		if err == nil {
			err = m.establish(ctx, res, true)
		}
		if err == nil {
			log.DebugContext(ctx, "auth_token_refreshed")
			return nil
		}
		if errors.Is(err, ErrDisposed) {
			return err
		}

		rejected := IsCredentialRejected(err)
		log.WarnContext(ctx, "auth_refresh_failed", "err", err, "rejected", rejected)
		m.emitFrom(ctx, TokenRefreshFailedEvent{Err: err, Rejected: rejected})

		if !rejected && !m.opts.SignOutOnTransientRefreshFailure {
			return nil
		}
		if err := m.endSession(ctx, true); err != nil {
			if errors.Is(err, ErrDisposed) {
				return err
			}
			log.WarnContext(ctx, "auth_forced_sign_out_remote_failed", "err", err)
		}
		return nil
	})
}

// Restore tries to resume a persisted session by refreshing its stored
// refresh token. It holds the initial pending slot while it runs, so
// IsPending reports true and OncePendingActionComplete waits for it.
func (m *Manager[P]) Restore(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.initial != nil {
		inflight := m.initial
		m.mu.Unlock()
		select {
		case <-inflight.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	op := newPendingOp("restore")
	m.initial = op
	m.mu.Unlock()

	m.announcePending()

	defer func() {
		m.mu.Lock()
		m.initial = nil
		m.mu.Unlock()

		m.announcePending()
		close(op.done)
	}()

	token := m.persistedRefreshToken(ctx)
	if token == "" {
		m.log(ctx).DebugContext(ctx, "auth_restore_skipped", "reason", "no_refresh_token")
		return nil
	}
	return m.RefreshToken(ctx, token)
}

// UpdateUser shallow-merges partial into the current user (creating one if
// needed), persists it and emits UserChangedEvent. It does not go through the
// pending slot and never changes the signed-in flag.
func (m *Manager[P]) UpdateUser(ctx context.Context, partial User) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	merged := m.user.Clone()
	if merged == nil {
		merged = User{}
	}
	maps.Copy(merged, partial)
	m.user = merged
	snapshot := merged.Clone()
	m.mu.Unlock()

	if err := kvstore.SetJSON(ctx, m.store, m.keys.User, snapshot); err != nil {
		return fmt.Errorf("authmanager: persist user: %w", err)
	}
	m.emit(UserChangedEvent{User: snapshot})
	return nil
}

// Dispose detaches every listener and the refresh interceptor. The Manager
// rejects all later operations with ErrDisposed. Calling it again does nothing.
func (m *Manager[P]) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.refresher.Dispose()
	m.bus.UnsubscribeAll()
	m.logger.Debug("auth_manager_disposed")
}

// ============================================================================
// Transitions
// ============================================================================

// establish loads the user for res, persists the session and flips to
// signed in. refreshed selects TokenRefreshedEvent over SignedInEvent.
func (m *Manager[P]) establish(ctx context.Context, res TokenResult, refreshed bool) error {
	user, err := m.opts.GetUser(ctx, m, Tokens{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
	if err != nil {
		return fmt.Errorf("authmanager: get user: %w", err)
	}
	if user == nil {
		user = User{}
	}
	extra := res.Extra
	if extra == nil {
		extra = map[string]any{}
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("authmanager: encode user: %w", err)
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("authmanager: encode auth data: %w", err)
	}

	if m.IsDisposed() {
		return ErrDisposed
	}
	if err := m.store.MultiSet(ctx, map[string][]byte{
		m.keys.AccessToken:  []byte(res.AccessToken),
		m.keys.RefreshToken: []byte(res.RefreshToken),
		m.keys.User:         userJSON,
		m.keys.AuthData:     extraJSON,
	}); err != nil {
		return fmt.Errorf("authmanager: persist session: %w", err)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.signedIn = true
	m.accessToken = res.AccessToken
	m.refreshToken = res.RefreshToken
	m.user = user
	m.extra = maps.Clone(extra)
	m.mu.Unlock()

	m.refresher.UpdateAuthHeader(m.AuthorizationHeader())

	m.emitFrom(ctx, AuthStateChangedEvent{SignedIn: true})
	if refreshed {
		m.emitFrom(ctx, TokenRefreshedEvent{User: user.Clone()})
	} else {
		m.emitFrom(ctx, SignedInEvent{User: user.Clone()})
	}
	m.emitFrom(ctx, UserChangedEvent{User: user.Clone()})
	return nil
}

// endSession clears the session locally, calls the remote sign-out if an
// access token was held, and emits the sign-out events. forced marks sign-outs
// caused by a failed refresh.
func (m *Manager[P]) endSession(ctx context.Context, forced bool) error {
	log := m.log(ctx)

	m.mu.Lock()
	if !m.signedIn && !forced {
		m.mu.Unlock()
		return nil
	}
	tokens := Tokens{AccessToken: m.accessToken, RefreshToken: m.refreshToken}
	wasSignedIn := m.signedIn
	m.signedIn = false
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.extra = nil
	m.mu.Unlock()

	m.refresher.UpdateAuthHeader("")

	if tokens.AccessToken == "" && !wasSignedIn {
		// A restored session only has its tokens on disk.
		tokens.AccessToken = m.persistedAccessToken(ctx)
		tokens.RefreshToken = m.persistedRefreshToken(ctx)
	}
	if err := m.store.MultiRemove(ctx, m.keys.all()...); err != nil {
		log.WarnContext(ctx, "auth_clear_storage_failed", "err", err)
	}

	var remoteErr error
	if tokens.AccessToken != "" && m.opts.SignOut != nil {
		remoteErr = m.opts.SignOut(ctx, m, tokens)
	}

	if m.IsDisposed() {
		return ErrDisposed
	}

	log.InfoContext(ctx, "auth_signed_out", "forced", forced, "remote_revoked", tokens.AccessToken != "" && remoteErr == nil)
	m.emitFrom(ctx, AuthStateChangedEvent{SignedIn: false})
	m.emitFrom(ctx, SignedOutEvent{Forced: forced})
	m.emitFrom(ctx, UserChangedEvent{User: nil})

	if remoteErr != nil {
		return fmt.Errorf("authmanager: remote sign out: %w", remoteErr)
	}
	return nil
}

func (m *Manager[P]) persistedRefreshToken(ctx context.Context) string {
	return m.readString(ctx, m.keys.RefreshToken)
}

func (m *Manager[P]) persistedAccessToken(ctx context.Context) string {
	return m.readString(ctx, m.keys.AccessToken)
}

// readString treats any read failure as an absent value.
func (m *Manager[P]) readString(ctx context.Context, key string) string {
	v, err := kvstore.GetString(ctx, m.store, key)
	if err != nil {
		if !kvstore.IsNotFound(err) {
			m.log(ctx).WarnContext(ctx, "auth_storage_read_failed", "key", key, "err", err)
		}
		return ""
	}
	return v
}

// ============================================================================
// Accessors
// ============================================================================

func (m *Manager[P]) IsSignedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signedIn
}

// IsPending reports whether an operation or the initial restore is in flight.
func (m *Manager[P]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPendingLocked()
}

func (m *Manager[P]) IsDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// User returns a copy of the current user, nil when signed out.
func (m *Manager[P]) User() User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.Clone()
}

// AccessToken returns the current access token, "" when signed out.
func (m *Manager[P]) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// RefreshTokenValue returns the current refresh token, "" when signed out.
func (m *Manager[P]) RefreshTokenValue() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

// AuthData returns a snapshot of the whole session taken under one lock.
func (m *Manager[P]) AuthData() AuthData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AuthData{
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		User:         m.user.Clone(),
		Extra:        maps.Clone(m.extra),
		IsSignedIn:   m.signedIn,
	}
}

// AuthorizationHeader returns the header value for the current session, ""
// when there is nothing to send.
func (m *Manager[P]) AuthorizationHeader() string {
	if m.opts.BuildAuthorizationHeader != nil {
		return m.opts.BuildAuthorizationHeader(m)
	}
	if tok := m.AccessToken(); tok != "" {
		return "Bearer " + tok
	}
	return ""
}

// Client returns the transport carrying the session's credentials.
func (m *Manager[P]) Client() *transport.Client { return m.client }

// Store returns the session store.
func (m *Manager[P]) Store() kvstore.Store { return m.store }

// StorageKeys returns the effective storage keys.
func (m *Manager[P]) StorageKeys() StorageKeys { return m.keys }
