// Package store defines the key-value persistence contract of the check-in
// engine. Values are opaque JSON documents; the engine owns their encoding.
// Backends live in store/inmem and under features/store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys used by the engine.
const (
	KeyPreferences  = "checkin.preferences"
	KeyCheckIns     = "checkin.pending"
	KeyRuleTriggers = "checkin.rule_triggers"
	KeyDailyCount   = "checkin.daily_count"
	KeyEngineState  = "checkin.engine_state"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: not found")

// Store persists opaque values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// GetJSON loads key into v. It reports false with a nil error when the key is
// missing.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v encoded as JSON under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
