// Package suppression records recipients the provider reported as
// undeliverable so that further sends to them are refused for a while.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/cache"
	"github.com/LittleSkinChina/sendmail-oci-email-delivery/internal/email"
)

const (
	// KeyPrefix namespaces suppression entries in the shared cache.
	KeyPrefix = "oci-email-delivery-suppress-"

	// DefaultTTL is how long an entry stays live after the last write.
	DefaultTTL = 24 * time.Hour
)

// Store is the single shared view of suppressed recipients. Both the send
// path and the webhook receiver write through it; the gate and the send
// path read through it.
type Store struct {
	cache cache.Cache[bool]
	ttl   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New returns a Store backed by c.
func New(c cache.Cache[bool], opts ...Option) *Store {
	s := &Store{cache: c, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the cache key for a recipient.
func Key(recipient string) string {
	return KeyPrefix + email.NormalizeAddress(recipient)
}

// TTL reports the lifetime applied by Put.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put marks recipient as suppressed. A repeated Put restarts the TTL.
func (s *Store) Put(ctx context.Context, recipient string) error {
	if err := s.cache.Set(ctx, Key(recipient), true, s.ttl); err != nil {
		return fmt.Errorf("suppress %s: %w", recipient, err)
	}
	return nil
}

// Get reports whether a live entry exists for recipient.
func (s *Store) Get(ctx context.Context, recipient string) (bool, error) {
	v, err := s.cache.Get(ctx, Key(recipient))
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup suppression for %s: %w", recipient, err)
	}
	return v, nil
}

// Ping checks that the backing cache is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
