package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"posed/internal/domain"
)

// memoryLimiter is a fixed-window counter per key, suitable for a
// single-process node. Expired windows are reaped lazily.
type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	maxKeys int
}

type window struct {
	count int
	endAt time.Time
}

type MemoryConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		windows: make(map[string]*window),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, windowLen time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && now.After(w.endAt) {
		delete(m.windows, key)
		ok = false
	}
	if !ok {
		if len(m.windows) >= m.maxKeys {
			m.gc(now)
		}
		if len(m.windows) >= m.maxKeys {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		w = &window{endAt: now.Add(windowLen)}
		m.windows[key] = w
	}

	if w.count < limit {
		w.count++
		return domain.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - w.count,
			ResetAt:   w.endAt,
		}, nil
	}
	return domain.RateLimitDecision{
		Allowed: false,
		Limit:   limit,
		ResetAt: w.endAt,
	}, nil
}

func (m *memoryLimiter) gc(now time.Time) {
	for key, w := range m.windows {
		if now.After(w.endAt) {
			delete(m.windows, key)
		}
	}
}
