package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glotchimo/ark/internal/archive"
	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/graxinc/errutil"
	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

const (
	backupPrefix = "ark:backup:"
	lockPrefix   = "ark:restore:"

	failureThreshold = 3
	cooldown         = 30 * time.Second
	localSize        = 256
)

// Cache keeps backup documents in redis as msgpack, with an in-process
// fallback used while redis is failing. It also holds the per-guild restore locks.
type Cache struct {
	c   *redis.Client
	l   *slog.Logger
	ttl time.Duration

	breaker *CircuitBreaker
	local   *Local

	mu    sync.Mutex
	locks map[string]struct{}
}

func NewCache(url string, l *slog.Logger, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errutil.With(err)
	}

	return &Cache{
		c:       redis.NewClient(opt),
		l:       l.With("component", "cache"),
		ttl:     ttl,
		breaker: NewCircuitBreaker(failureThreshold, cooldown),
		local:   NewLocal(localSize),
		locks:   make(map[string]struct{}),
	}, nil
}

func (c *Cache) Close() error {
	return c.c.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.c.Ping(ctx).Err(); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *Cache) Breaker() CircuitState {
	return c.breaker.State()
}

func (c *Cache) fail(op string, err error) {
	c.breaker.Failure()
	c.l.Warn("redis call failed", "op", op, "state", c.breaker.State(), "error", err)
}

// Snapshot returns the cached document of a backup, or ErrMiss.
func (c *Cache) Snapshot(ctx context.Context, backupID string) (*snapshot.Snapshot, error) {
	key := backupPrefix + backupID

	if c.breaker.Allow() {
		b, err := c.c.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			c.breaker.Success()
			s, err := archive.DecodeMsgpack(b)
			if err != nil {
				c.l.Warn("dropping undecodable cache entry", "backup", backupID, "error", err)
				c.Forget(ctx, backupID)
				return nil, ErrMiss
			}
			return s, nil
		case errors.Is(err, redis.Nil):
			c.breaker.Success()
		default:
			c.fail("get", err)
		}
	}

	b, ok := c.local.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	s, err := archive.DecodeMsgpack(b)
	if err != nil {
		c.local.Delete(key)
		return nil, ErrMiss
	}
	return s, nil
}

// PutSnapshot caches a backup document. Redis failures are logged and absorbed.
func (c *Cache) PutSnapshot(ctx context.Context, backupID string, s *snapshot.Snapshot) error {
	b, err := archive.EncodeMsgpack(s)
	if err != nil {
		return err
	}

	key := backupPrefix + backupID
	c.local.Set(key, b, c.ttl)

	if !c.breaker.Allow() {
		return nil
	}
	if err := c.c.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.fail("set", err)
		return nil
	}
	c.breaker.Success()
	return nil
}

func (c *Cache) Forget(ctx context.Context, backupID string) {
	key := backupPrefix + backupID
	c.local.Delete(key)

	if !c.breaker.Allow() {
		return
	}
	if err := c.c.Del(ctx, key).Err(); err != nil {
		c.fail("del", err)
		return
	}
	c.breaker.Success()
}

// Lock claims the restore lock of a guild for up to ttl. It reports false when another
// restore holds it. While redis is unavailable the lock is only held in this process.
func (c *Cache) Lock(ctx context.Context, guildID string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.locks[guildID]; held {
		return false
	}

	if c.breaker.Allow() {
		ok, err := c.c.SetNX(ctx, lockPrefix+guildID, "1", ttl).Result()
		if err != nil {
			c.fail("setnx", err)
		} else {
			c.breaker.Success()
			if !ok {
				return false
			}
		}
	}

	c.locks[guildID] = struct{}{}
	return true
}

func (c *Cache) Unlock(ctx context.Context, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.locks, guildID)

	if !c.breaker.Allow() {
		return
	}
	if err := c.c.Del(ctx, lockPrefix+guildID).Err(); err != nil {
		c.fail("del", err)
		return
	}
	c.breaker.Success()
}
