// Package kvstore defines the string-keyed persistence contract used by the
// auth session manager, plus small typed helpers on top of it. Concrete
// drivers live under drivers/.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("kvstore: not found")

// Store is a string-keyed byte store. Drivers must return ErrNotFound (or an
// error wrapping it) from Get for missing keys, and must treat removal of a
// missing key as success.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// MultiSet writes every entry. Drivers that can do so atomically must.
	MultiSet(ctx context.Context, entries map[string][]byte) error

	// MultiRemove removes every key. Missing keys are ignored.
	MultiRemove(ctx context.Context, keys ...string) error
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// GetString reads key as a string.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetString writes a string value.
func SetString(ctx context.Context, s Store, key, value string) error {
	return s.Set(ctx, key, []byte(value))
}

// GetJSON reads key and unmarshals it into target.
func GetJSON(ctx context.Context, s Store, key string, target any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, target); err != nil {
		return fmt.Errorf("kvstore: decode %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	b, err := EncodeJSON(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, b)
}

// EncodeJSON is json.Marshal, exposed so callers building a MultiSet batch
// encode values the same way SetJSON does.
func EncodeJSON(value any) ([]byte, error) {
	return json.Marshal(value)
}
