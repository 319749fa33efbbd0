// Package session caches resolved principals in Redis so role lookups do
// not hit Postgres on every request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eurobansync/api/internal/rbac"
)

// ErrMiss reports that no cached principal exists for the user.
var ErrMiss = errors.New("principal not cached")

type cachedPrincipal struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Roles    []string  `json:"roles"`
	CachedAt time.Time `json:"cached_at"`
}

type PrincipalCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPrincipalCache(redisURL string, ttl time.Duration) (*PrincipalCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewPrincipalCacheWithClient(client, ttl), nil
}

func NewPrincipalCacheWithClient(client *redis.Client, ttl time.Duration) *PrincipalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PrincipalCache{client: client, prefix: "principal:", ttl: ttl}
}

func (c *PrincipalCache) key(userID string) string {
	return c.prefix + userID
}

func (c *PrincipalCache) Get(ctx context.Context, userID string) (rbac.Principal, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return rbac.Principal{}, ErrMiss
	}
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}

	var data cachedPrincipal
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return rbac.Principal{}, fmt.Errorf("unmarshal principal: %w", err)
	}
	return rbac.Principal{
		ID:       data.ID,
		Email:    data.Email,
		FullName: data.FullName,
		Roles:    rbac.ParseRoles(data.Roles),
	}, nil
}

func (c *PrincipalCache) Set(ctx context.Context, p rbac.Principal) error {
	payload, err := json.Marshal(cachedPrincipal{
		ID:       p.ID,
		Email:    p.Email,
		FullName: p.FullName,
		Roles:    rbac.Strings(p.Roles),
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save principal: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry; role grants call it so the next
// request re-reads user_roles.
func (c *PrincipalCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate principal: %w", err)
	}
	return nil
}

func (c *PrincipalCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PrincipalCache) Close() error {
	return c.client.Close()
}
