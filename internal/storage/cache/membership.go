// Package cache fronts slow lookups with redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// Membership caches IsMember answers. Redis failures fall through to the
// wrapped checker; they never fail a join on their own.
type Membership struct {
	rdb  *redis.Client
	next core.MembershipChecker
	ttl  time.Duration
}

func NewMembership(rdb *redis.Client, next core.MembershipChecker, ttl time.Duration) *Membership {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Membership{rdb: rdb, next: next, ttl: ttl}
}

func memberKey(group domain.GroupID, user domain.UserID) string {
	return fmt.Sprintf("realtime:member:%d:%s", int64(group), user)
}

func (m *Membership) IsMember(ctx context.Context, group domain.GroupID, user domain.UserID) (bool, error) {
	key := memberKey(group, user)

	v, err := m.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Str("module", "storage.cache").Str("key", key).Msg("redis get")
	}

	ok, err := m.next.IsMember(ctx, group, user)
	if err != nil {
		return false, err
	}

	val, ttl := "0", m.ttl/4
	if ok {
		val, ttl = "1", m.ttl
	}
	if err := m.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "storage.cache").Str("key", key).Msg("redis set")
	}
	return ok, nil
}

// Invalidate drops a cached answer after a membership change.
func (m *Membership) Invalidate(ctx context.Context, group domain.GroupID, user domain.UserID) error {
	return m.rdb.Del(ctx, memberKey(group, user)).Err()
}

// NewClient builds a client and pings it once.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
