// Package refresh recovers from expired credentials at the transport layer.
//
// A Handler registers one rejection interceptor on a transport.Client. When a
// request fails with 401 while the session is signed in, the handler runs a
// single shared refresh (however many requests failed at the same time),
// then replays each failed request once with the new Authorization header.
// Replays are tagged so a second 401 never triggers another refresh cycle.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/authkit/pkg/slogx"
	"github.com/aussiebroadwan/authkit/pkg/transport"
)

const (
	// AuthorizationHeader is the header the handler manages.
	AuthorizationHeader = "Authorization"

	flightKey = "refresh"
)

var ErrInvalidParams = errors.New("refresh: invalid params")

type skipKey struct{}

// WithoutRefresh marks ctx so that requests issued with it are never
// refreshed or replayed. Session operations use it for their own calls to the
// auth service: a 401 there must surface, not wait on a refresh that is
// waiting on the very same operation.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

func skipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey{}).(bool)
	return v
}

// Params wires a Handler to a session.
type Params struct {
	Client *transport.Client

	// ForceRefreshToken refreshes the session's credentials. A returned error
	// means the session could not be recovered.
	ForceRefreshToken func(ctx context.Context) error

	// AuthorizationHeader returns the header value for the current
	// credentials, or "" when there is none.
	AuthorizationHeader func() string

	IsSignedIn func() bool
	SignOut    func(ctx context.Context) error

	Logger *slog.Logger
}

func (p Params) validate() error {
	switch {
	case p.Client == nil:
		return errors.Join(ErrInvalidParams, errors.New("client is required"))
	case p.ForceRefreshToken == nil:
		return errors.Join(ErrInvalidParams, errors.New("ForceRefreshToken is required"))
	case p.AuthorizationHeader == nil:
		return errors.Join(ErrInvalidParams, errors.New("AuthorizationHeader is required"))
	case p.IsSignedIn == nil:
		return errors.Join(ErrInvalidParams, errors.New("IsSignedIn is required"))
	case p.SignOut == nil:
		return errors.Join(ErrInvalidParams, errors.New("SignOut is required"))
	}
	return nil
}

// Handler owns the interceptor registration and the shared refresh slot.
type Handler struct {
	p      Params
	logger *slog.Logger

	group singleflight.Group

	id       transport.InterceptorID
	disposed atomic.Bool

	refreshes atomic.Int64
}

// New registers the interceptor on p.Client.
func New(p Params) (*Handler, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	h := &Handler{p: p, logger: slogx.OrDefault(p.Logger)}
	h.id = p.Client.Use(nil, h.onRejected)
	return h, nil
}

// UpdateAuthHeader installs value as the client's default Authorization
// header. An empty value removes it.
func (h *Handler) UpdateAuthHeader(value string) {
	if value == "" {
		h.p.Client.DelDefaultHeader(AuthorizationHeader)
		return
	}
	h.p.Client.SetDefaultHeader(AuthorizationHeader, value)
}

// Refreshes returns how many shared refreshes this handler has started.
func (h *Handler) Refreshes() int64 { return h.refreshes.Load() }

// Dispose ejects the interceptor. Later calls do nothing.
func (h *Handler) Dispose() {
	if h.disposed.Swap(true) {
		return
	}
	h.p.Client.Eject(h.id)
}

func (h *Handler) onRejected(err error) (*transport.Response, error) {
	if h.disposed.Load() {
		return nil, err
	}

	var rerr *transport.ResponseError
	if !errors.As(err, &rerr) || rerr.Request == nil || rerr.Response == nil {
		return nil, err
	}
	ctx := rerr.Request.Context()
	if rerr.Request.IsRetry() || skipped(ctx) || rerr.Response.StatusCode != http.StatusUnauthorized || !h.p.IsSignedIn() {
		return nil, err
	}

	log := slogx.FromContext(ctx, h.logger)

	if ferr := h.sharedRefresh(ctx); ferr != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.WarnContext(ctx, "auth_refresh_on_401_failed", "url", rerr.Request.URL, "err", ferr)
		h.signOut(ctx)
		return nil, err
	}

	header := h.p.AuthorizationHeader()
	if header == "" {
		log.DebugContext(ctx, "auth_retry_skipped_no_credentials", "url", rerr.Request.URL)
		return nil, err
	}

	retry := rerr.Request.Clone()
	retry.MarkRetry()
	retry.Header.Set(AuthorizationHeader, header)

	resp, retryErr := h.p.Client.Do(retry)
	if retryErr != nil {
		if transport.StatusCode(retryErr) == http.StatusUnauthorized {
			// Fresh credentials were rejected too; the session is unusable.
			log.WarnContext(ctx, "auth_retry_rejected", "url", rerr.Request.URL)
			h.signOut(ctx)
			return nil, err
		}
		return nil, retryErr
	}
	return resp, nil
}

// sharedRefresh joins the in-flight refresh or starts one. The refresh runs
// detached from any single caller's cancellation; each caller only stops
// waiting when its own context ends.
func (h *Handler) sharedRefresh(ctx context.Context) error {
	ch := h.group.DoChan(flightKey, func() (any, error) {
		h.refreshes.Add(1)
		return nil, h.p.ForceRefreshToken(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) signOut(ctx context.Context) {
	if err := h.p.SignOut(context.WithoutCancel(ctx)); err != nil {
		slogx.FromContext(ctx, h.logger).WarnContext(ctx, "auth_sign_out_after_refresh_failed", "err", err)
	}
}
