package authmanager_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authkit/pkg/authmanager"
	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/memory"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
	"github.com/aussiebroadwan/authkit/pkg/transport"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type creds struct {
	Email string
}

// statusErr is a minimal error carrying an HTTP status.
type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("HTTP %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

// fakeService records calls and issues numbered token pairs.
type fakeService struct {
	signInCalls  atomic.Int32
	signOutCalls atomic.Int32
	refreshCalls atomic.Int32
	getUserCalls atomic.Int32

	mu             sync.Mutex
	signInErr      error
	refreshErr     error
	signOutErr     error
	gate           chan struct{}
	seq            int
	lastRefreshTok string
	revoked        []string
}

func (f *fakeService) set(fn func(f *fakeService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeService) next() authmanager.TokenResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return authmanager.TokenResult{
		AccessToken:  fmt.Sprintf("access-%d", f.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", f.seq),
		Extra:        map[string]any{"token_type": "Bearer"},
	}
}

func (f *fakeService) options() authmanager.Options[creds] {
	return authmanager.Options[creds]{
		SignIn: func(ctx context.Context, p creds, _ *authmanager.Manager[creds]) (authmanager.TokenResult, error) {
			f.signInCalls.Add(1)
			f.mu.Lock()
			gate, err := f.gate, f.signInErr
			f.mu.Unlock()
			if gate != nil {
				<-gate
			}
			if err != nil {
				return authmanager.TokenResult{}, err
			}
			return f.next(), nil
		},
		SignOut: func(ctx context.Context, _ *authmanager.Manager[creds], t authmanager.Tokens) error {
			f.signOutCalls.Add(1)
			f.mu.Lock()
			defer f.mu.Unlock()
			f.revoked = append(f.revoked, t.AccessToken)
			return f.signOutErr
		},
		RefreshToken: func(ctx context.Context, _ *authmanager.Manager[creds], token string) (authmanager.TokenResult, error) {
			f.refreshCalls.Add(1)
			f.mu.Lock()
			f.lastRefreshTok = token
			err := f.refreshErr
			f.mu.Unlock()
			if err != nil {
				return authmanager.TokenResult{}, err
			}
			return f.next(), nil
		},
		GetUser: func(ctx context.Context, _ *authmanager.Manager[creds], t authmanager.Tokens) (authmanager.User, error) {
			f.getUserCalls.Add(1)
			return authmanager.User{"id": float64(1), "email": "test@example.com", "name": "John Doe"}, nil
		},
		Logger: slogx.Discard(),
	}
}

func newManager(t *testing.T, f *fakeService, mutate ...func(*authmanager.Options[creds])) *authmanager.Manager[creds] {
	t.Helper()
	opts := f.options()
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := authmanager.New(opts)
	require.NoError(t, err)
	t.Cleanup(m.Dispose)
	return m
}

// recorder collects event kinds in emission order.
type recorder struct {
	mu    sync.Mutex
	kinds []authmanager.EventKind
}

func record(t *testing.T, m *authmanager.Manager[creds], kinds ...authmanager.EventKind) *recorder {
	t.Helper()
	r := &recorder{}
	_, err := m.Subscribe(func(ev authmanager.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.kinds = append(r.kinds, ev.Kind())
	}, kinds...)
	require.NoError(t, err)
	return r
}

func (r *recorder) get() []authmanager.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authmanager.EventKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = nil
}

var stateKinds = []authmanager.EventKind{
	authmanager.EventAuthStateChanged,
	authmanager.EventSignedIn,
	authmanager.EventSignedOut,
	authmanager.EventTokenRefreshed,
	authmanager.EventUserChanged,
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := authmanager.New(authmanager.Options[creds]{})
	require.ErrorIs(t, err, authmanager.ErrInvalidOptions)

	opts := (&fakeService{}).options()
	opts.GetUser = nil
	_, err = authmanager.New(opts)
	require.ErrorIs(t, err, authmanager.ErrInvalidOptions)
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	store := memory.New()
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })
	rec := record(t, m, stateKinds...)

	require.NoError(t, m.SignIn(ctx, creds{Email: "test@example.com"}))

	require.True(t, m.IsSignedIn())
	require.False(t, m.IsPending())
	require.Equal(t, "access-1", m.AccessToken())
	require.Equal(t, "refresh-1", m.RefreshTokenValue())
	require.Equal(t, "John Doe", m.User()["name"])
	require.Equal(t, "Bearer access-1", m.Client().DefaultHeader("Authorization"))

	require.Equal(t, []authmanager.EventKind{
		authmanager.EventAuthStateChanged,
		authmanager.EventSignedIn,
		authmanager.EventUserChanged,
	}, rec.get())

	keys := m.StorageKeys()
	tok, err := kvstore.GetString(ctx, store, keys.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "access-1", tok)

	var user map[string]any
	require.NoError(t, kvstore.GetJSON(ctx, store, keys.User, &user))
	require.Equal(t, "test@example.com", user["email"])

	var extra map[string]any
	require.NoError(t, kvstore.GetJSON(ctx, store, keys.AuthData, &extra))
	require.Equal(t, "Bearer", extra["token_type"])

	t.Run("already signed in short-circuits", func(t *testing.T) {
		require.NoError(t, m.SignIn(ctx, creds{Email: "other@example.com"}))
		require.EqualValues(t, 1, f.signInCalls.Load())
		require.Equal(t, "access-1", m.AccessToken())
	})
}

func TestConcurrentSignInCallsServiceOnce(t *testing.T) {
	t.Parallel()

	const callers = 10

	f := &fakeService{gate: make(chan struct{})}
	m := newManager(t, f)
	ctx := context.Background()

	var g errgroup.Group
	for range callers {
		g.Go(func() error { return m.SignIn(ctx, creds{Email: "test@example.com"}) })
	}

	require.Eventually(t, m.IsPending, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)

	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, f.signInCalls.Load())
	require.True(t, m.IsSignedIn())
	require.False(t, m.IsPending())
}

func TestSignInFailure(t *testing.T) {
	t.Parallel()

	f := &fakeService{signInErr: statusErr(http.StatusBadRequest)}
	m := newManager(t, f)

	var failed []error
	_, err := m.OnSignInFailed(func(ev authmanager.SignInFailedEvent) { failed = append(failed, ev.Err) })
	require.NoError(t, err)

	err = m.SignIn(context.Background(), creds{Email: "nobody@example.com"})
	require.Error(t, err)
	require.True(t, authmanager.IsCredentialRejected(err))

	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[0], err)
	require.False(t, m.IsSignedIn())
	require.False(t, m.IsPending())
	require.Nil(t, m.User())
	require.Zero(t, f.getUserCalls.Load())
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	store := memory.New()
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })

	require.NoError(t, m.SignIn(ctx, creds{}))
	rec := record(t, m, stateKinds...)

	require.NoError(t, m.SignOut(ctx))

	require.False(t, m.IsSignedIn())
	require.Empty(t, m.AccessToken())
	require.Empty(t, m.RefreshTokenValue())
	require.Nil(t, m.User())
	require.Empty(t, m.Client().DefaultHeader("Authorization"))
	require.Empty(t, store.Keys())

	require.EqualValues(t, 1, f.signOutCalls.Load())
	require.Equal(t, []string{"access-1"}, f.revoked)
	require.Equal(t, []authmanager.EventKind{
		authmanager.EventAuthStateChanged,
		authmanager.EventSignedOut,
		authmanager.EventUserChanged,
	}, rec.get())
}

func TestSignOutWhenSignedOutIsNoop(t *testing.T) {
	t.Parallel()

	f := &fakeService{}
	m := newManager(t, f)
	rec := record(t, m)

	require.NoError(t, m.SignOut(context.Background()))
	require.Zero(t, f.signOutCalls.Load())
	require.Empty(t, rec.get())
}

func TestSignOutRemoteErrorAfterEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{signOutErr: errors.New("revoke endpoint down")}
	m := newManager(t, f)
	require.NoError(t, m.SignIn(ctx, creds{}))

	var signedOut atomic.Bool
	_, err := m.OnSignedOut(func(authmanager.SignedOutEvent) { signedOut.Store(true) })
	require.NoError(t, err)

	err = m.SignOut(ctx)
	require.ErrorIs(t, err, f.signOutErr)
	require.True(t, signedOut.Load())
	require.False(t, m.IsSignedIn())
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	m := newManager(t, f)
	require.NoError(t, m.SignIn(ctx, creds{}))

	rec := record(t, m, stateKinds...)
	require.NoError(t, m.RefreshToken(ctx, ""))

	require.Equal(t, "refresh-1", f.lastRefreshTok)
	require.Equal(t, "access-2", m.AccessToken())
	require.Equal(t, "Bearer access-2", m.Client().DefaultHeader("Authorization"))
	require.Equal(t, []authmanager.EventKind{
		authmanager.EventAuthStateChanged,
		authmanager.EventTokenRefreshed,
		authmanager.EventUserChanged,
	}, rec.get())

	t.Run("explicit token wins", func(t *testing.T) {
		require.NoError(t, m.RefreshToken(ctx, "explicit"))
		require.Equal(t, "explicit", f.lastRefreshTok)
	})
}

func TestRefreshWhenSignedOutWithoutToken(t *testing.T) {
	t.Parallel()

	f := &fakeService{}
	m := newManager(t, f)
	rec := record(t, m, stateKinds...)

	require.NoError(t, m.RefreshToken(context.Background(), ""))
	require.Zero(t, f.refreshCalls.Load())
	require.False(t, m.IsSignedIn())
	require.Empty(t, rec.get())
}

func TestRefreshRejectedSignsOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	store := memory.New()
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })
	require.NoError(t, m.SignIn(ctx, creds{}))

	var failure authmanager.TokenRefreshFailedEvent
	_, err := m.OnTokenRefreshFailed(func(ev authmanager.TokenRefreshFailedEvent) { failure = ev })
	require.NoError(t, err)
	var forced bool
	_, err = m.OnSignedOut(func(ev authmanager.SignedOutEvent) { forced = ev.Forced })
	require.NoError(t, err)

	f.set(func(f *fakeService) { f.refreshErr = statusErr(http.StatusUnauthorized) })
	require.NoError(t, m.RefreshToken(ctx, "invalid"))

	require.False(t, m.IsSignedIn())
	require.Empty(t, store.Keys())
	require.True(t, failure.Rejected)
	require.True(t, forced)
	require.Equal(t, []string{"access-1"}, f.revoked)
}

func TestRefreshTransientFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("keeps session by default", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		m := newManager(t, f)
		require.NoError(t, m.SignIn(ctx, creds{}))

		f.set(func(f *fakeService) { f.refreshErr = statusErr(http.StatusBadGateway) })
		require.NoError(t, m.RefreshToken(ctx, ""))
		require.True(t, m.IsSignedIn())
		require.Equal(t, "access-1", m.AccessToken())
	})

	t.Run("network error keeps session", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		m := newManager(t, f)
		require.NoError(t, m.SignIn(ctx, creds{}))

		f.set(func(f *fakeService) { f.refreshErr = errors.New("dial tcp: connection refused") })
		require.NoError(t, m.RefreshToken(ctx, ""))
		require.True(t, m.IsSignedIn())
	})

	t.Run("signs out when configured", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		m := newManager(t, f, func(o *authmanager.Options[creds]) { o.SignOutOnTransientRefreshFailure = true })
		require.NoError(t, m.SignIn(ctx, creds{}))

		f.set(func(f *fakeService) { f.refreshErr = statusErr(http.StatusServiceUnavailable) })
		require.NoError(t, m.RefreshToken(ctx, ""))
		require.False(t, m.IsSignedIn())
	})
}

func TestRefreshCollapsesIntoPendingSignIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{gate: make(chan struct{})}
	m := newManager(t, f)

	var g errgroup.Group
	g.Go(func() error { return m.SignIn(ctx, creds{}) })
	require.Eventually(t, m.IsPending, time.Second, time.Millisecond)

	g.Go(func() error { return m.RefreshToken(ctx, "some-token") })
	time.Sleep(50 * time.Millisecond)
	close(f.gate)

	require.NoError(t, g.Wait())
	require.True(t, m.IsSignedIn())
	require.Zero(t, f.refreshCalls.Load())
}

func TestDispose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	m := newManager(t, f)
	require.NoError(t, m.SignIn(ctx, creds{}))
	require.Equal(t, 1, m.Client().InterceptorCount())

	m.Dispose()
	m.Dispose()

	require.True(t, m.IsDisposed())
	require.Zero(t, m.Client().InterceptorCount())
	require.ErrorIs(t, m.RefreshToken(ctx, ""), authmanager.ErrDisposed)
	require.ErrorIs(t, m.SignIn(ctx, creds{}), authmanager.ErrDisposed)
	require.ErrorIs(t, m.SignOut(ctx), authmanager.ErrDisposed)
	require.ErrorIs(t, m.UpdateUser(ctx, authmanager.User{"a": 1}), authmanager.ErrDisposed)
	require.ErrorIs(t, m.Restore(ctx), authmanager.ErrDisposed)

	_, err := m.OnSignedIn(func(authmanager.SignedInEvent) {})
	require.ErrorIs(t, err, authmanager.ErrDisposed)
	_, err = m.OncePendingActionComplete(func() {})
	require.ErrorIs(t, err, authmanager.ErrDisposed)

	require.Zero(t, f.refreshCalls.Load())
}

func TestDisposeMidFlightDiscardsResult(t *testing.T) {
	t.Parallel()

	f := &fakeService{gate: make(chan struct{})}
	m := newManager(t, f)

	var signedIn atomic.Bool
	_, err := m.OnSignedIn(func(authmanager.SignedInEvent) { signedIn.Store(true) })
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- m.SignIn(context.Background(), creds{}) }()
	require.Eventually(t, m.IsPending, time.Second, time.Millisecond)

	m.Dispose()
	close(f.gate)

	require.ErrorIs(t, <-errc, authmanager.ErrDisposed)
	require.False(t, m.IsSignedIn())
	require.False(t, signedIn.Load())
}

func TestUpdateUserMerges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	store := memory.New()
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })
	require.NoError(t, m.SignIn(ctx, creds{Email: "test@example.com"}))

	var changed authmanager.User
	_, err := m.OnUserChanged(func(ev authmanager.UserChangedEvent) { changed = ev.User })
	require.NoError(t, err)

	require.NoError(t, m.UpdateUser(ctx, authmanager.User{"name": "Joe Doe"}))

	want := authmanager.User{"id": float64(1), "email": "test@example.com", "name": "Joe Doe"}
	require.Equal(t, want, m.User())
	require.Equal(t, want, changed)
	require.True(t, m.IsSignedIn())

	var persisted authmanager.User
	require.NoError(t, kvstore.GetJSON(ctx, store, m.StorageKeys().User, &persisted))
	require.Equal(t, want, persisted)

	t.Run("creates a record when none exists", func(t *testing.T) {
		m2 := newManager(t, &fakeService{})
		require.NoError(t, m2.UpdateUser(ctx, authmanager.User{"name": "Solo"}))
		require.Equal(t, authmanager.User{"name": "Solo"}, m2.User())
		require.False(t, m2.IsSignedIn())
	})

	t.Run("returned user is a copy", func(t *testing.T) {
		u := m.User()
		u["name"] = "mutated"
		require.Equal(t, "Joe Doe", m.User()["name"])
	})
}

func TestUnsubscribeSignedOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t, &fakeService{})

	var calls int
	unsub, err := m.OnSignedOut(func(authmanager.SignedOutEvent) { calls++ })
	require.NoError(t, err)

	require.NoError(t, m.SignIn(ctx, creds{}))
	require.NoError(t, m.SignOut(ctx))
	require.Equal(t, 1, calls)

	unsub()
	require.NoError(t, m.SignIn(ctx, creds{}))
	require.NoError(t, m.SignOut(ctx))
	require.Equal(t, 1, calls)
}

func TestOncePendingActionComplete(t *testing.T) {
	t.Parallel()

	t.Run("fires immediately when idle", func(t *testing.T) {
		t.Parallel()

		m := newManager(t, &fakeService{})
		called := false
		_, err := m.OncePendingActionComplete(func() { called = true })
		require.NoError(t, err)
		require.True(t, called)
	})

	t.Run("waits for the pending operation", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{gate: make(chan struct{})}
		m := newManager(t, f)

		errc := make(chan error, 1)
		go func() { errc <- m.SignIn(context.Background(), creds{}) }()
		require.Eventually(t, m.IsPending, time.Second, time.Millisecond)

		var calls atomic.Int32
		_, err := m.OncePendingActionComplete(func() { calls.Add(1) })
		require.NoError(t, err)
		require.Zero(t, calls.Load())

		close(f.gate)
		require.NoError(t, <-errc)
		require.EqualValues(t, 1, calls.Load())

		// One-shot: later operations do not call it again.
		require.NoError(t, m.SignOut(context.Background()))
		require.EqualValues(t, 1, calls.Load())
	})
}

func TestPendingEvents(t *testing.T) {
	t.Parallel()

	m := newManager(t, &fakeService{})

	var states []bool
	_, err := m.OnPendingStateChanged(func(ev authmanager.PendingStateChangedEvent) { states = append(states, ev.Pending) })
	require.NoError(t, err)

	require.NoError(t, m.SignIn(context.Background(), creds{}))
	require.Equal(t, []bool{true, false}, states)
}

func TestNewSignedIn(t *testing.T) {
	t.Parallel()

	f := &fakeService{}
	store := memory.New()
	opts := f.options()
	opts.Store = store

	m, err := authmanager.NewSignedIn(opts, authmanager.SignedInState{
		AccessToken:  "hydrated-access",
		RefreshToken: "hydrated-refresh",
		User:         authmanager.User{"id": 7},
		AuthData:     map[string]any{"scope": "read"},
	})
	require.NoError(t, err)
	t.Cleanup(m.Dispose)

	data := m.AuthData()
	require.True(t, data.IsSignedIn)
	require.Equal(t, "hydrated-access", data.AccessToken)
	require.Equal(t, "hydrated-refresh", data.RefreshToken)
	require.Equal(t, authmanager.User{"id": 7}, data.User)
	require.Equal(t, "read", data.Extra["scope"])
	require.Equal(t, "Bearer hydrated-access", m.Client().DefaultHeader("Authorization"))

	require.Empty(t, store.Keys(), "hydration must not persist")
	require.Zero(t, f.signInCalls.Load()+f.refreshCalls.Load()+f.getUserCalls.Load())
}

func TestRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resumes persisted session", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		store := memory.New()
		keys := authmanager.DefaultStorageKeys()
		require.NoError(t, store.MultiSet(ctx, map[string][]byte{
			keys.AccessToken:  []byte("old-access"),
			keys.RefreshToken: []byte("persisted-refresh"),
		}))

		m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })

		var completes atomic.Int32
		_, err := m.Subscribe(func(authmanager.Event) { completes.Add(1) }, authmanager.EventPendingActionComplete)
		require.NoError(t, err)

		require.NoError(t, m.Restore(ctx))
		require.True(t, m.IsSignedIn())
		require.False(t, m.IsPending())
		require.Equal(t, "persisted-refresh", f.lastRefreshTok)
		require.EqualValues(t, 1, completes.Load())
	})

	t.Run("rejected persisted token revokes and clears", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{refreshErr: statusErr(http.StatusUnauthorized)}
		store := memory.New()
		keys := authmanager.DefaultStorageKeys()
		require.NoError(t, store.MultiSet(ctx, map[string][]byte{
			keys.AccessToken:  []byte("old-access"),
			keys.RefreshToken: []byte("stale-refresh"),
		}))

		m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Store = store })
		require.NoError(t, m.Restore(ctx))

		require.False(t, m.IsSignedIn())
		require.Empty(t, store.Keys())
		require.Equal(t, []string{"old-access"}, f.revoked)
	})

	t.Run("nothing persisted", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		m := newManager(t, f)

		var pending []bool
		_, err := m.OnPendingStateChanged(func(ev authmanager.PendingStateChangedEvent) { pending = append(pending, ev.Pending) })
		require.NoError(t, err)

		require.NoError(t, m.Restore(ctx))
		require.False(t, m.IsSignedIn())
		require.Zero(t, f.refreshCalls.Load())
		require.Equal(t, []bool{true, false}, pending)
	})
}

func TestCustomStorageKeysAndHeader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	m := newManager(t, &fakeService{}, func(o *authmanager.Options[creds]) {
		o.Store = store
		o.StorageKeys = authmanager.StorageKeys{AccessToken: "app2/access"}
		o.BuildAuthorizationHeader = func(m *authmanager.Manager[creds]) string {
			if tok := m.AccessToken(); tok != "" {
				return "Token " + tok
			}
			return ""
		}
	})

	require.NoError(t, m.SignIn(ctx, creds{}))
	require.Equal(t, "Token access-1", m.Client().DefaultHeader("Authorization"))
	require.Equal(t, []string{"@authkit/authData", "@authkit/refreshToken", "@authkit/user", "app2/access"}, store.Keys())
}

func TestMaxListeners(t *testing.T) {
	t.Parallel()

	m := newManager(t, &fakeService{}, func(o *authmanager.Options[creds]) { o.MaxListeners = 1 })

	_, err := m.OnSignedIn(func(authmanager.SignedInEvent) {})
	require.NoError(t, err)
	_, err = m.OnSignedIn(func(authmanager.SignedInEvent) {})
	require.Error(t, err)
}

func TestInterceptorRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	// The resource only accepts the second access token.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`["apple"]`))
	}))
	t.Cleanup(srv.Close)

	f := &fakeService{}
	client := transport.New(transport.Config{BaseURL: srv.URL, Logger: slogx.Discard()})
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Client = client })

	ctx := context.Background()
	require.NoError(t, m.SignIn(ctx, creds{}))

	resp, err := client.Get(ctx, "/food")
	require.NoError(t, err)
	var food []string
	require.NoError(t, resp.DecodeJSON(&food))
	require.Equal(t, []string{"apple"}, food)

	require.EqualValues(t, 1, f.refreshCalls.Load())
	require.Equal(t, "access-2", m.AccessToken())

	// The refreshed default header is used from now on.
	_, err = client.Get(ctx, "/food")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.refreshCalls.Load())
}

func TestIsCredentialRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"400", statusErr(400), true},
		{"401 wrapped", fmt.Errorf("refresh: %w", statusErr(401)), true},
		{"499", statusErr(499), true},
		{"500", statusErr(500), false},
		{"no status", statusErr(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, authmanager.IsCredentialRejected(tt.err))
		})
	}
}

// runWithin fails the test when fn does not return within d.
func runWithin(t *testing.T, d time.Duration, fn func() error) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(d):
		t.Fatalf("operation did not return within %v", d)
		return nil
	}
}

func TestListenerMayCallBackIntoManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("sign out from a sign-in listener", func(t *testing.T) {
		t.Parallel()

		f := &fakeService{}
		m := newManager(t, f)

		var listenerErr error
		_, err := m.OnSignedIn(func(authmanager.SignedInEvent) {
			listenerErr = m.SignOut(ctx)
		})
		require.NoError(t, err)

		require.NoError(t, runWithin(t, 2*time.Second, func() error {
			return m.SignIn(ctx, creds{})
		}))
		require.NoError(t, listenerErr)
		require.False(t, m.IsSignedIn())
		require.False(t, m.IsPending())
		require.EqualValues(t, 1, f.signOutCalls.Load())
	})

	t.Run("request through the client from a sign-in listener", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`["apple"]`))
		}))
		t.Cleanup(srv.Close)

		f := &fakeService{}
		client := transport.New(transport.Config{BaseURL: srv.URL, Logger: slogx.Discard()})
		m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Client = client })

		var listenerErr error
		_, err := m.OnSignedIn(func(authmanager.SignedInEvent) {
			_, listenerErr = client.Get(ctx, "/food")
		})
		require.NoError(t, err)

		require.NoError(t, runWithin(t, 2*time.Second, func() error {
			return m.SignIn(ctx, creds{})
		}))
		require.NoError(t, listenerErr)
		require.EqualValues(t, 1, f.refreshCalls.Load())
		require.Equal(t, "access-2", m.AccessToken())
	})
}

func TestReentrantHookFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeService{}
	m := newManager(t, f, func(o *authmanager.Options[creds]) {
		o.SignIn = func(ctx context.Context, _ creds, m *authmanager.Manager[creds]) (authmanager.TokenResult, error) {
			return authmanager.TokenResult{}, m.RefreshToken(ctx, "refresh-x")
		}
	})

	err := runWithin(t, 2*time.Second, func() error { return m.SignIn(ctx, creds{}) })
	require.ErrorIs(t, err, authmanager.ErrReentrant)
	require.False(t, m.IsSignedIn())
	require.False(t, m.IsPending())
	require.Zero(t, f.refreshCalls.Load())
}

func TestRestorePendingEventsOnlyOnTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	keys := authmanager.DefaultStorageKeys()
	require.NoError(t, store.MultiSet(ctx, map[string][]byte{
		keys.RefreshToken: []byte("persisted-refresh"),
	}))

	m := newManager(t, &fakeService{}, func(o *authmanager.Options[creds]) { o.Store = store })

	var pending []bool
	_, err := m.OnPendingStateChanged(func(ev authmanager.PendingStateChangedEvent) { pending = append(pending, ev.Pending) })
	require.NoError(t, err)

	require.NoError(t, m.Restore(ctx))
	require.True(t, m.IsSignedIn())
	require.Equal(t, []bool{true, false}, pending)
}

func TestReplayRejectedSignsOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	f := &fakeService{}
	client := transport.New(transport.Config{BaseURL: srv.URL, Logger: slogx.Discard()})
	m := newManager(t, f, func(o *authmanager.Options[creds]) { o.Client = client })

	var signedOut []authmanager.SignedOutEvent
	_, err := m.OnSignedOut(func(ev authmanager.SignedOutEvent) { signedOut = append(signedOut, ev) })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SignIn(ctx, creds{}))

	_, err = client.Get(ctx, "/food")
	require.Equal(t, http.StatusUnauthorized, transport.StatusCode(err))

	require.EqualValues(t, 1, f.refreshCalls.Load())
	require.False(t, m.IsSignedIn())
	require.Equal(t, []authmanager.SignedOutEvent{{Forced: false}}, signedOut)
	require.Equal(t, []string{"access-2"}, f.revoked)
}
