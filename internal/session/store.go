// Package session implements the expiring key/value store the credential client persists tokens in.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/pkg/logger"
)

// ExemptKey holds the admin bypass flag. It is stored raw, never wrapped.
const ExemptKey = "session_exempt"

// DefaultDuration is the absolute session lifetime
const DefaultDuration = 8 * time.Hour

// wrapped is the persisted form of a value written through Set
type wrapped struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
}

// Store wraps a KV with absolute expiry and an exempt flag
// ⭐ SSOT: 세션 만료 판정은 여기서만
type Store struct {
	kv       KV
	clock    clock.Clock
	duration time.Duration
	logger   *logger.Logger
}

// NewStore creates a session store. duration <= 0 uses DefaultDuration.
func NewStore(kv KV, clk clock.Clock, duration time.Duration, log *logger.Logger) *Store {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Store{
		kv:       kv,
		clock:    clk,
		duration: duration,
		logger:   log,
	}
}

// Get returns the live value for key.
// Wrapped entries past their expiry are deleted and reported as missing unless the store is exempt.
// Values that are not in wrapped form are returned verbatim.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("session get %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}

	w, isWrapped := unwrap(raw)
	if !isWrapped {
		return raw, true, nil
	}

	if s.clock.Now().UnixMilli() <= w.ExpiresAt {
		return w.Value, true, nil
	}

	exempt, err := s.IsExempt(ctx)
	if err != nil {
		return "", false, err
	}
	if exempt {
		return w.Value, true, nil
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return "", false, fmt.Errorf("session delete expired %s: %w", key, err)
	}
	s.logger.WithField("key", key).Debug("Session entry expired")

	return "", false, nil
}

// Set wraps value with expiry now+duration
func (s *Store) Set(ctx context.Context, key, value string) error {
	data, err := json.Marshal(wrapped{
		Value:     value,
		ExpiresAt: s.clock.Now().Add(s.duration).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("session wrap: %w", err)
	}

	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("session set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key unconditionally
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("session remove %s: %w", key, err)
	}
	return nil
}

// SetExempt persists the admin bypass flag
func (s *Store) SetExempt(ctx context.Context, exempt bool) error {
	var err error
	if exempt {
		err = s.kv.Set(ctx, ExemptKey, "true")
	} else {
		err = s.kv.Delete(ctx, ExemptKey)
	}
	if err != nil {
		return fmt.Errorf("session set exempt: %w", err)
	}
	return nil
}

// IsExempt reports whether expiry is currently bypassed
func (s *Store) IsExempt(ctx context.Context) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, ExemptKey)
	if err != nil {
		return false, fmt.Errorf("session get exempt: %w", err)
	}
	return ok && raw == "true", nil
}

// Sweep deletes every expired wrapped entry and returns how many were removed.
// Nothing is removed while the store is exempt.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if key == ExemptKey {
			continue
		}
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if _, isWrapped := unwrap(raw); !isWrapped {
			continue
		}
		if _, live, err := s.Get(ctx, key); err == nil && !live {
			removed++
		}
	}

	return removed, nil
}

// ExpiresAt returns the stored expiry of a wrapped entry
func (s *Store) ExpiresAt(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	w, isWrapped := unwrap(raw)
	if !isWrapped {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(w.ExpiresAt), true, nil
}

// unwrap parses the wrapped form; both fields must be present
func unwrap(raw string) (wrapped, bool) {
	var probe struct {
		Value     *string `json:"value"`
		ExpiresAt *int64  `json:"expiresAt"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return wrapped{}, false
	}
	if probe.Value == nil || probe.ExpiresAt == nil {
		return wrapped{}, false
	}
	return wrapped{Value: *probe.Value, ExpiresAt: *probe.ExpiresAt}, true
}
