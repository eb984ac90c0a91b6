package mockauth

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/authkit/pkg/idx"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	ErrTokenType    = errors.New("mockauth: wrong token type")
	ErrTokenExpired = errors.New("mockauth: token expired")
	ErrTokenRevoked = errors.New("mockauth: token revoked")
)

// claims carries the expiry in milliseconds. The registered exp claim has
// second precision, too coarse for sub-second lifetimes.
type claims struct {
	jwt.RegisteredClaims

	Type        string   `json:"typ"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresAtMs int64    `json:"exp_ms"`
}

func (c *claims) expiresAt() time.Time { return time.UnixMilli(c.ExpiresAtMs) }

func (c *claims) userID() (int, error) {
	id, err := strconv.Atoi(c.Subject)
	if err != nil {
		return 0, fmt.Errorf("mockauth: bad subject %q", c.Subject)
	}
	return id, nil
}

type tokenIssuer struct {
	secret []byte

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry
}

func newTokenIssuer(secret []byte) *tokenIssuer {
	return &tokenIssuer{secret: secret, revoked: make(map[string]time.Time)}
}

func (ti *tokenIssuer) issue(u User, typ string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.Itoa(u.ID),
			IssuedAt: jwt.NewNumericDate(now),
			ID:       idx.NewAt(now).String(),
		},
		Type:        typ,
		ExpiresAtMs: exp.UnixMilli(),
	}
	if typ == tokenAccess {
		c.Scopes = u.Scopes
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("mockauth: sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

func (ti *tokenIssuer) verify(raw, typ string, now time.Time) (*claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	var c claims
	if _, err := parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("mockauth: parse or verify: %w", err)
	}
	if c.Type != typ {
		return nil, ErrTokenType
	}
	if _, err := idx.Parse(c.ID); err != nil {
		return nil, fmt.Errorf("mockauth: token id: %w", err)
	}
	if !now.Before(c.expiresAt()) {
		return nil, ErrTokenExpired
	}

	ti.mu.Lock()
	_, revoked := ti.revoked[c.ID]
	ti.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &c, nil
}

// revoke blocks c's jti until it would have expired anyway.
func (ti *tokenIssuer) revoke(c *claims, now time.Time) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	for jti, exp := range ti.revoked {
		if now.After(exp) {
			delete(ti.revoked, jti)
		}
	}
	ti.revoked[c.ID] = c.expiresAt()
}
