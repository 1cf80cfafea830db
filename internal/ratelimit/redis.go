// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript increments the per-key counter and sets its expiry on the
// first hit of each window.
const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// Redis is a fixed-window limiter shared between service instances. It fails
// open: an unreachable Redis never blocks code issuance.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	script *redis.Script
}

// NewRedis allows limit requests per key per window.
func NewRedis(client *redis.Client, limit int, window time.Duration, prefix string) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		script: redis.NewScript(rateLimitScript),
	}
}

// Allow reports whether the key has budget left in the current window.
func (r *Redis) Allow(ctx context.Context, key string) bool {
	if r.limit <= 0 || r.window <= 0 || key == "" {
		return true
	}

	redisKey := key
	if r.prefix != "" {
		redisKey = r.prefix + ":" + key
	}

	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()

	allowed, err := r.script.Run(ctx, r.client, []string{redisKey}, r.window.Milliseconds(), r.limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}
