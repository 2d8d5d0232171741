// Package rdx wraps the redis connection shared by the username cache, token
// revocation and event fan-out. Without a redis address it keeps the same
// data in process, which is enough for a single instance.
package rdx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usersHash     = "users"
	revokedPrefix = "revoked:"
)

type Cache struct {
	Conn *redis.Client

	mu      sync.Mutex
	names   map[string]string
	revoked map[string]time.Time
	now     func() time.Time
}

// Connect dials redis and pings it. An empty addr returns an in-process cache.
func Connect(ctx context.Context, addr, password string) (*Cache, error) {
	if addr == "" {
		return NewLocal(), nil
	}
	conn := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{Conn: conn}, nil
}

func NewLocal() *Cache {
	return &Cache{
		names:   map[string]string{},
		revoked: map[string]time.Time{},
		now:     time.Now,
	}
}

func (c *Cache) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// Username returns the cached name for userID; ok is false on a miss.
func (c *Cache) Username(ctx context.Context, userID string) (name string, ok bool, err error) {
	if c.Conn == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		name, ok = c.names[userID]
		return name, ok, nil
	}
	name, err = c.Conn.HGet(ctx, usersHash, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (c *Cache) SetUsername(ctx context.Context, userID, name string) error {
	if c.Conn == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.names[userID] = name
		return nil
	}
	return c.Conn.HSet(ctx, usersHash, userID, name).Err()
}

// RevokeToken marks a token id as logged out until ttl passes.
func (c *Cache) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if c.Conn == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.revoked[tokenID] = c.now().Add(ttl)
		return nil
	}
	return c.Conn.Set(ctx, revokedPrefix+tokenID, 1, ttl).Err()
}

func (c *Cache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if c.Conn == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		until, ok := c.revoked[tokenID]
		if ok && !c.now().Before(until) {
			delete(c.revoked, tokenID)
			return false, nil
		}
		return ok, nil
	}
	n, err := c.Conn.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
