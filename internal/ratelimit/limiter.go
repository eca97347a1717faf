// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE fixed window algorithm, used to throttle message posting
// and login attempts.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a limiting policy: the Redis key prefix, the maximum count
// allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RulePost allows 10 message posts per 30 seconds per user.
	RulePost = Rule{Key: "rl:post:", Limit: 10, Window: 30 * time.Second}

	// RuleLogin allows 5 login attempts per minute per address.
	RuleLogin = Rule{Key: "rl:login:", Limit: 5, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis. A nil Limiter
// allows everything, so Redis stays optional.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the identifier is within the rule's limit,
// incrementing its counter. On Redis errors the limiter fails open: an
// outage must not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: INCR %s: %v (failing open)", key, err)
		return true
	}

	// First increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: EXPIRE %s: %v (failing open)", key, err)
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
