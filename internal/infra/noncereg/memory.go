package noncereg

import (
	"context"
	"errors"
	"sync"
	"time"

	"posed/internal/usecase"
)

// MemoryRegistry tracks consumed nonces in process memory. Expiry is
// lazy: entries past the TTL are treated as absent and purged as a
// side effect of lookups and inserts, so no background timer exists.
type MemoryRegistry struct {
	mu      sync.Mutex
	now     func() time.Time
	ttl     time.Duration
	entries map[string]time.Time
	maxKeys int
}

type MemoryConfig struct {
	// TTL must exceed the longest challenge deadline so no in-flight
	// receipt's nonce expires before its replay check.
	TTL     time.Duration
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryRegistry(cfg MemoryConfig) (*MemoryRegistry, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("nonce ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100000
	}
	return &MemoryRegistry{
		now:     cfg.Now,
		ttl:     cfg.TTL,
		entries: make(map[string]time.Time),
		maxKeys: cfg.MaxKeys,
	}, nil
}

func (r *MemoryRegistry) Seen(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seenLocked(key, r.now()), nil
}

func (r *MemoryRegistry) Record(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(key, r.now())
	return nil
}

// Consume is the atomic seen-then-record pair; exactly one of two
// concurrent calls for the same key gets true.
func (r *MemoryRegistry) Consume(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.seenLocked(key, now) {
		return false, nil
	}
	r.recordLocked(key, now)
	return true, nil
}

func (r *MemoryRegistry) seenLocked(key string, now time.Time) bool {
	firstSeen, ok := r.entries[key]
	if !ok {
		return false
	}
	if now.Sub(firstSeen) > r.ttl {
		delete(r.entries, key)
		return false
	}
	return true
}

func (r *MemoryRegistry) recordLocked(key string, now time.Time) {
	if len(r.entries) >= r.maxKeys {
		r.gc(now)
	}
	r.entries[key] = now
}

func (r *MemoryRegistry) gc(now time.Time) {
	for key, firstSeen := range r.entries {
		if now.Sub(firstSeen) > r.ttl {
			delete(r.entries, key)
		}
	}
}

var _ usecase.NonceRegistry = (*MemoryRegistry)(nil)
