// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit bounds how often a single chat identity may request a
// verification code.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a request for the given key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Unlimited allows everything. Used when rate limiting is disabled.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context, string) bool { return true }

// Memory is a per-key token bucket held in process memory.
type Memory struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewMemory allows perMinute requests per key with a matching burst.
func NewMemory(perMinute int) *Memory {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Memory{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether the key has budget left.
func (m *Memory) Allow(_ context.Context, key string) bool {
	m.mu.Lock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = l
	}
	m.mu.Unlock()
	return l.Allow()
}
