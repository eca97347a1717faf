package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// cachePrefix is the Redis key prefix for status snapshots.
	cachePrefix = "mod:"

	// DefaultCacheTTL bounds how stale a cached snapshot may be. Five
	// seconds keeps the hot path off Postgres without letting a fresh ban
	// linger; applying a sanction invalidates the key anyway.
	DefaultCacheTTL = 5 * time.Second
)

// Store is the narrow slice of the storage layer this package needs.
type Store interface {
	GetModerationStatus(ctx context.Context, userID int64) (Status, error)
	SetMuted(ctx context.Context, userID int64, until time.Time) error
	SetBanned(ctx context.Context, userID int64, until *time.Time, permanent bool, reason string) error
}

// Provider reads and applies moderation state. The Redis client is
// optional; with a nil client every read goes straight to storage.
type Provider struct {
	store    Store
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewProvider creates a Provider. cache may be nil.
func NewProvider(store Store, cache *redis.Client) *Provider {
	return &Provider{store: store, cache: cache, cacheTTL: DefaultCacheTTL}
}

// Status returns the user's current moderation snapshot. Storage errors are
// returned to the caller: the write path must fail closed on them, the
// connect path may choose to degrade.
func (p *Provider) Status(ctx context.Context, userID int64) (Status, error) {
	if s, ok := p.cached(ctx, userID); ok {
		return s, nil
	}

	s, err := p.store.GetModerationStatus(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("moderation: status for user %d: %w", userID, err)
	}

	p.storeCache(ctx, userID, s)
	return s, nil
}

// ApplyMute mutes the user for the sanction's duration and returns the
// resulting expiry. Mutes are always bounded.
func (p *Provider) ApplyMute(ctx context.Context, userID int64, s Sanction) (time.Time, error) {
	if !s.Valid() || s.Permanent {
		return time.Time{}, errors.New("moderation: mute requires a positive duration")
	}
	until := time.Now().Add(s.Duration)
	if err := p.store.SetMuted(ctx, userID, until); err != nil {
		return time.Time{}, fmt.Errorf("moderation: mute user %d: %w", userID, err)
	}
	p.invalidate(ctx, userID)
	return until, nil
}

// ApplyBan bans the user. The returned expiry is nil for permanent bans.
func (p *Provider) ApplyBan(ctx context.Context, userID int64, s Sanction, reason string) (*time.Time, error) {
	if !s.Valid() {
		return nil, errors.New("moderation: ban requires a positive duration or permanent")
	}
	until := s.Until(time.Now())
	if err := p.store.SetBanned(ctx, userID, until, s.Permanent, reason); err != nil {
		return nil, fmt.Errorf("moderation: ban user %d: %w", userID, err)
	}
	p.invalidate(ctx, userID)
	return until, nil
}

func (p *Provider) cached(ctx context.Context, userID int64) (Status, bool) {
	if p.cache == nil {
		return Status{}, false
	}
	data, err := p.cache.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false
	}
	if err != nil {
		log.Printf("moderation: cache read user=%d: %v", userID, err)
		return Status{}, false
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("moderation: cache decode user=%d: %v", userID, err)
		return Status{}, false
	}
	return s, true
}

func (p *Provider) storeCache(ctx context.Context, userID int64, s Status) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(userID), data, p.cacheTTL).Err(); err != nil {
		log.Printf("moderation: cache write user=%d: %v", userID, err)
	}
}

func (p *Provider) invalidate(ctx context.Context, userID int64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Del(ctx, cacheKey(userID)).Err(); err != nil {
		log.Printf("moderation: cache invalidate user=%d: %v", userID, err)
	}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", cachePrefix, userID)
}
