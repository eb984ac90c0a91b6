package authmanager

import (
	"fmt"

	"github.com/aussiebroadwan/authkit/pkg/eventbus"
)

// EventKind identifies a session event.
type EventKind int

const (
	EventAuthStateChanged EventKind = iota + 1
	EventSignedIn
	EventSignedOut
	EventTokenRefreshed
	EventTokenRefreshFailed
	EventUserChanged
	EventSignInFailed
	EventPendingStateChanged
	EventPendingActionComplete
)

func (k EventKind) String() string {
	switch k {
	case EventAuthStateChanged:
		return "auth_state_changed"
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	case EventTokenRefreshFailed:
		return "token_refresh_failed"
	case EventUserChanged:
		return "user_changed"
	case EventSignInFailed:
		return "sign_in_failed"
	case EventPendingStateChanged:
		return "pending_state_changed"
	case EventPendingActionComplete:
		return "pending_action_complete"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one of the *Event types below. A type switch over Event is the
// intended way to consume the generic Subscribe stream.
type Event interface {
	Kind() EventKind
	sealed()
}

// AuthStateChangedEvent fires whenever the signed-in flag may have changed.
type AuthStateChangedEvent struct{ SignedIn bool }

// SignedInEvent fires after a successful sign-in.
type SignedInEvent struct{ User User }

// SignedOutEvent fires after the session ends, voluntarily or not.
type SignedOutEvent struct {
	// Forced is set when the session ended because a refresh failed.
	Forced bool
}

// TokenRefreshedEvent fires after new tokens were stored.
type TokenRefreshedEvent struct{ User User }

// TokenRefreshFailedEvent fires on every failed refresh exchange.
type TokenRefreshFailedEvent struct {
	Err      error
	Rejected bool
}

// UserChangedEvent carries the current user, nil when signed out.
type UserChangedEvent struct{ User User }

// SignInFailedEvent carries the error returned to the SignIn caller.
type SignInFailedEvent struct{ Err error }

// PendingStateChangedEvent fires when an operation starts or settles.
type PendingStateChangedEvent struct{ Pending bool }

// PendingActionCompleteEvent fires once nothing is pending any more.
type PendingActionCompleteEvent struct{}

func (AuthStateChangedEvent) Kind() EventKind      { return EventAuthStateChanged }
func (SignedInEvent) Kind() EventKind              { return EventSignedIn }
func (SignedOutEvent) Kind() EventKind             { return EventSignedOut }
func (TokenRefreshedEvent) Kind() EventKind        { return EventTokenRefreshed }
func (TokenRefreshFailedEvent) Kind() EventKind    { return EventTokenRefreshFailed }
func (UserChangedEvent) Kind() EventKind           { return EventUserChanged }
func (SignInFailedEvent) Kind() EventKind          { return EventSignInFailed }
func (PendingStateChangedEvent) Kind() EventKind   { return EventPendingStateChanged }
func (PendingActionCompleteEvent) Kind() EventKind { return EventPendingActionComplete }

func (AuthStateChangedEvent) sealed()      {}
func (SignedInEvent) sealed()              {}
func (SignedOutEvent) sealed()             {}
func (TokenRefreshedEvent) sealed()        {}
func (TokenRefreshFailedEvent) sealed()    {}
func (UserChangedEvent) sealed()           {}
func (SignInFailedEvent) sealed()          {}
func (PendingStateChangedEvent) sealed()   {}
func (PendingActionCompleteEvent) sealed() {}

// Unsubscribe removes the listener it was returned for.
type Unsubscribe = eventbus.Unsubscribe

func (m *Manager[P]) emit(ev Event) {
	m.bus.Emit(ev.Kind(), ev)
}

// AllEventKinds lists every kind in declaration order.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventAuthStateChanged,
		EventSignedIn,
		EventSignedOut,
		EventTokenRefreshed,
		EventTokenRefreshFailed,
		EventUserChanged,
		EventSignInFailed,
		EventPendingStateChanged,
		EventPendingActionComplete,
	}
}

// Subscribe registers fn for every event of the given kinds, or of all kinds
// when none are given.
func (m *Manager[P]) Subscribe(fn func(Event), kinds ...EventKind) (Unsubscribe, error) {
	if len(kinds) == 0 {
		kinds = AllEventKinds()
	}
	unsubs := make([]Unsubscribe, 0, len(kinds))
	undo := func() {
		for _, u := range unsubs {
			u()
		}
	}
	for _, k := range kinds {
		u, err := m.subscribe(k, false, fn)
		if err != nil {
			undo()
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	return undo, nil
}

func (m *Manager[P]) subscribe(kind EventKind, once bool, fn func(Event)) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if once {
		return m.bus.SubscribeOnce(kind, fn)
	}
	return m.bus.Subscribe(kind, fn)
}

func on[E Event, P any](m *Manager[P], kind EventKind, fn func(E)) (Unsubscribe, error) {
	return m.subscribe(kind, false, func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

func (m *Manager[P]) OnAuthStateChanged(fn func(AuthStateChangedEvent)) (Unsubscribe, error) {
	return on(m, EventAuthStateChanged, fn)
}

func (m *Manager[P]) OnSignedIn(fn func(SignedInEvent)) (Unsubscribe, error) {
	return on(m, EventSignedIn, fn)
}

func (m *Manager[P]) OnSignedOut(fn func(SignedOutEvent)) (Unsubscribe, error) {
	return on(m, EventSignedOut, fn)
}

func (m *Manager[P]) OnTokenRefreshed(fn func(TokenRefreshedEvent)) (Unsubscribe, error) {
	return on(m, EventTokenRefreshed, fn)
}

func (m *Manager[P]) OnTokenRefreshFailed(fn func(TokenRefreshFailedEvent)) (Unsubscribe, error) {
	return on(m, EventTokenRefreshFailed, fn)
}

func (m *Manager[P]) OnUserChanged(fn func(UserChangedEvent)) (Unsubscribe, error) {
	return on(m, EventUserChanged, fn)
}

func (m *Manager[P]) OnSignInFailed(fn func(SignInFailedEvent)) (Unsubscribe, error) {
	return on(m, EventSignInFailed, fn)
}

func (m *Manager[P]) OnPendingStateChanged(fn func(PendingStateChangedEvent)) (Unsubscribe, error) {
	return on(m, EventPendingStateChanged, fn)
}

// OncePendingActionComplete calls fn right away when nothing is pending.
// Otherwise fn runs once, the next time the pending slot clears.
func (m *Manager[P]) OncePendingActionComplete(fn func()) (Unsubscribe, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if !m.isPendingLocked() {
		m.mu.Unlock()
		fn()
		return func() {}, nil
	}
	// Subscribing under m.mu means the slot cannot clear (and emit) before
	// the listener is in place.
	unsub, err := m.bus.SubscribeOnce(EventPendingActionComplete, func(Event) { fn() })
	m.mu.Unlock()
	return unsub, err
}
