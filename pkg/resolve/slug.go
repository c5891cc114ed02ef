package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"orgbridge/pkg/logger"
	"orgbridge/pkg/tenants"
)

// SlugLookup maps a short organization name to its id. (uuid.Nil, false, nil)
// means the slug is definitely unknown; a non-nil error means the answer is
// not known right now and must not be cached.
type SlugLookup interface {
	LookupSlug(ctx context.Context, slug string) (uuid.UUID, bool, error)
}

// slugLookupTimeout bounds a shared lookup that no longer follows the
// context of the request that started it.
const slugLookupTimeout = 5 * time.Second

// SlugParser returns a ParseFunc for routes that carry either an id or a slug.
// UUID-shaped values are returned as is; anything else goes through lookup.
// A failed lookup resolves to nothing.
func SlugParser(lookup SlugLookup) ParseFunc {
	return func(ctx context.Context, value any) (uuid.UUID, bool) {
		if value == nil {
			return uuid.Nil, false
		}
		s := strings.TrimSpace(fmt.Sprint(value))
		if s == "" {
			return uuid.Nil, false
		}
		if id, err := uuid.Parse(s); err == nil {
			return id, true
		}
		if lookup == nil {
			return uuid.Nil, false
		}
		id, ok, err := lookup.LookupSlug(ctx, s)
		if err != nil {
			return uuid.Nil, false
		}
		return id, ok
	}
}

type providerLookup struct{ prov tenants.Provider }

// ProviderSlugLookup looks slugs up directly in the organization provider.
func ProviderSlugLookup(prov tenants.Provider) SlugLookup { return providerLookup{prov: prov} }

func (p providerLookup) LookupSlug(ctx context.Context, slug string) (uuid.UUID, bool, error) {
	org, err := p.prov.OrganizationBySlug(ctx, slug)
	switch {
	case errors.Is(err, tenants.ErrNotFound):
		return uuid.Nil, false, nil
	case err != nil:
		return uuid.Nil, false, fmt.Errorf("organization by slug %q: %w", slug, err)
	}
	return org.ID, true, nil
}

// negative entries keep unknown slugs from hammering the provider
const missingSlug = "-"

type cachedLookup struct {
	rdb   *redis.Client
	next  SlugLookup
	ttl   time.Duration
	log   *zap.SugaredLogger
	group singleflight.Group
}

// CachedSlugLookup caches slug → id answers from next in Redis. Redis errors
// fall through to next; they never turn into a resolution error. Concurrent
// misses for the same slug share one call to next.
func CachedSlugLookup(rdb *redis.Client, next SlugLookup, ttl time.Duration, log *zap.SugaredLogger) SlugLookup {
	if rdb == nil {
		return next
	}
	if log == nil {
		log = logger.Nop()
	}
	return &cachedLookup{rdb: rdb, next: next, ttl: ttl, log: log}
}

func slugKey(slug string) string { return "orgbridge:slug:" + strings.ToLower(slug) }

func (c *cachedLookup) LookupSlug(ctx context.Context, slug string) (uuid.UUID, bool, error) {
	key := slugKey(slug)
	v, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if v == missingSlug {
			return uuid.Nil, false, nil
		}
		if id, perr := uuid.Parse(v); perr == nil {
			return id, true, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warnw("slug cache read", "slug", slug, "err", err)
	}

	// Waiters share the call, so it must not die with whichever request
	// happened to start it.
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), slugLookupTimeout)
		defer cancel()
		id, ok, err := c.next.LookupSlug(shared, slug)
		if err != nil {
			c.log.Warnw("slug lookup", "slug", slug, "err", err)
			return nil, err
		}
		val := missingSlug
		if ok {
			val = id.String()
		}
		if err := c.rdb.Set(shared, key, val, c.ttl).Err(); err != nil {
			c.log.Warnw("slug cache write", "slug", slug, "err", err)
		}
		return slugEntry{id: id, ok: ok}, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return uuid.Nil, false, res.Err
		}
		e := res.Val.(slugEntry)
		return e.id, e.ok, nil
	case <-ctx.Done():
		return uuid.Nil, false, ctx.Err()
	}
}

type slugEntry struct {
	id uuid.UUID
	ok bool
}

type memoryLookup struct {
	next  SlugLookup
	cache *expirable.LRU[string, slugEntry]
}

// MemorySlugLookup keeps up to size recent answers from next in process for
// ttl. It sits in front of CachedSlugLookup so hot slugs skip Redis.
func MemorySlugLookup(next SlugLookup, size int, ttl time.Duration) SlugLookup {
	if size <= 0 || ttl <= 0 {
		return next
	}
	return &memoryLookup{next: next, cache: expirable.NewLRU[string, slugEntry](size, nil, ttl)}
}

func (m *memoryLookup) LookupSlug(ctx context.Context, slug string) (uuid.UUID, bool, error) {
	key := strings.ToLower(slug)
	if e, ok := m.cache.Get(key); ok {
		return e.id, e.ok, nil
	}
	id, ok, err := m.next.LookupSlug(ctx, slug)
	if err != nil {
		return uuid.Nil, false, err
	}
	m.cache.Add(key, slugEntry{id: id, ok: ok})
	return id, ok, nil
}
