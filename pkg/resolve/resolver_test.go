package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orgbridge/pkg/tenants"
)

func routeCtx(kv ...string) context.Context {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return context.WithValue(context.Background(), chi.RouteCtxKey, rctx)
}

func fixedRoutes(vals RouteValues) RouteAccessor {
	return func(context.Context) (RouteValues, bool) { return vals, true }
}

func TestRouteValue(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name   string
		r      Resolver
		ctx    context.Context
		want   uuid.UUID
		wantOK bool
	}{
		{name: "nil accessor", r: RouteValue(nil, "org", nil), ctx: routeCtx("org", id.String())},
		{name: "no unit of work", r: RouteValue(ChiRouteValues, "org", nil), ctx: context.Background()},
		{name: "entry missing", r: RouteValue(ChiRouteValues, "org", nil), ctx: routeCtx("other", id.String())},
		{name: "valid uuid", r: RouteValue(ChiRouteValues, "org", nil), ctx: routeCtx("org", id.String()), want: id, wantOK: true},
		{name: "braced uuid", r: RouteValue(ChiRouteValues, "org", nil), ctx: routeCtx("org", "{"+id.String()+"}"), want: id, wantOK: true},
		{name: "malformed", r: RouteValue(ChiRouteValues, "org", nil), ctx: routeCtx("org", "not-a-uuid")},
		{name: "empty", r: RouteValue(ChiRouteValues, "org", nil), ctx: routeCtx("org", "")},
		{name: "non string value", r: RouteValue(fixedRoutes(RouteValues{"org": id}), "org", nil), ctx: context.Background(), want: id, wantOK: true},
		{name: "nil value", r: RouteValue(fixedRoutes(RouteValues{"org": nil}), "org", nil), ctx: context.Background()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.Resolve(tt.ctx)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteValueNilContext(t *testing.T) {
	r := RouteValue(ChiRouteValues, "org", nil)
	got, ok := r.Resolve(nil)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, got)
}

func TestRouteValueCustomParse(t *testing.T) {
	mapped := uuid.New()
	var seen []any
	parse := func(_ context.Context, v any) (uuid.UUID, bool) {
		seen = append(seen, v)
		if v == "acme" {
			return mapped, true
		}
		return uuid.Nil, false
	}
	r := RouteValue(ChiRouteValues, "org", parse)

	got, ok := r.Resolve(routeCtx("org", "acme"))
	require.True(t, ok)
	assert.Equal(t, mapped, got)

	// a valid uuid is still handed to the parser and its answer wins
	valid := uuid.New()
	got, ok = r.Resolve(routeCtx("org", valid.String()))
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, got)

	assert.Equal(t, []any{"acme", valid.String()}, seen)

	// parser is not consulted when the entry is missing
	_, ok = r.Resolve(routeCtx("other", "acme"))
	assert.False(t, ok)
	assert.Len(t, seen, 2)
}

func TestChiRouteValuesFromRouter(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	var ok bool
	r := chi.NewRouter()
	r.Get("/orgs/{org}/whoami", func(w http.ResponseWriter, req *http.Request) {
		got, ok = RouteValue(ChiRouteValues, "org", nil).Resolve(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orgs/"+id.String()+"/whoami", nil))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestHeader(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Organization-Id", " "+id.String()+" ")

	r := Header("X-Organization-Id", nil)
	got, ok := r.Resolve(WithRequest(context.Background(), req))
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = r.Resolve(context.Background())
	assert.False(t, ok, "no request in context")

	req.Header.Set("X-Organization-Id", "garbage")
	_, ok = r.Resolve(WithRequest(context.Background(), req))
	assert.False(t, ok)
}

func TestHeaderMiddleware(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = Header("X-Organization-Id", nil).Resolve(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Organization-Id", id.String())
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, id, got)
}

func TestClaim(t *testing.T) {
	id := uuid.New()
	tok := jwt.New()
	require.NoError(t, tok.Set("tid", id.String()))
	source := func(context.Context) jwt.Token { return tok }

	got, ok := Claim(source, "tid", nil).Resolve(context.Background())
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = Claim(source, "org", nil).Resolve(context.Background())
	assert.False(t, ok, "claim missing")

	_, ok = Claim(func(context.Context) jwt.Token { return nil }, "tid", nil).Resolve(context.Background())
	assert.False(t, ok, "no token")

	_, ok = Claim(nil, "tid", nil).Resolve(context.Background())
	assert.False(t, ok, "no source")
}

func TestStatic(t *testing.T) {
	id := uuid.New()
	got, ok := Static(id).Resolve(context.Background())
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = Static(uuid.Nil).Resolve(context.Background())
	assert.False(t, ok)
}

func TestChainFirstMatch(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	var calls []string
	track := func(name string, id uuid.UUID, ok bool) Resolver {
		return ResolverFunc(func(context.Context) (uuid.UUID, bool) {
			calls = append(calls, name)
			return id, ok
		})
	}
	c := Chain{
		track("empty", uuid.Nil, false),
		nil,
		track("first", first, true),
		track("second", second, true),
	}
	got, ok := c.First(context.Background())
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, []string{"empty", "first"}, calls, "evaluation stops at first success")

	_, ok = Chain{}.First(context.Background())
	assert.False(t, ok)

	nested := Chain{Chain{track("inner", second, true)}, track("outer", first, true)}
	got, _ = nested.Resolve(context.Background())
	assert.Equal(t, second, got)
}

// countingLookup answers from ids. It fails like a real provider when the
// context is done or when err is set.
type countingLookup struct {
	ids   map[string]uuid.UUID
	err   error
	calls int
}

func (c *countingLookup) LookupSlug(ctx context.Context, slug string) (uuid.UUID, bool, error) {
	c.calls++
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	if c.err != nil {
		return uuid.Nil, false, c.err
	}
	id, ok := c.ids[slug]
	return id, ok, nil
}

func TestSlugParser(t *testing.T) {
	acme := uuid.New()
	lookup := &countingLookup{ids: map[string]uuid.UUID{"acme": acme}}
	parse := SlugParser(lookup)

	got, ok := parse(context.Background(), "acme")
	require.True(t, ok)
	assert.Equal(t, acme, got)

	direct := uuid.New()
	got, ok = parse(context.Background(), direct.String())
	require.True(t, ok)
	assert.Equal(t, direct, got)
	assert.Equal(t, 1, lookup.calls, "uuid values skip the lookup")

	_, ok = parse(context.Background(), "unknown")
	assert.False(t, ok)
	_, ok = parse(context.Background(), nil)
	assert.False(t, ok)
	_, ok = SlugParser(nil)(context.Background(), "acme")
	assert.False(t, ok)

	lookup.err = errors.New("db down")
	_, ok = parse(context.Background(), "acme")
	assert.False(t, ok, "lookup errors resolve to nothing")
}

// flakyProvider fails OrganizationBySlug until healed.
type flakyProvider struct {
	tenants.Provider
	broken bool
}

func (f *flakyProvider) OrganizationBySlug(ctx context.Context, slug string) (tenants.Organization, error) {
	if f.broken {
		return tenants.Organization{}, errors.New("connection refused")
	}
	return f.Provider.OrganizationBySlug(ctx, slug)
}

func TestProviderSlugLookup(t *testing.T) {
	org := tenants.Organization{ID: uuid.New(), Slug: "acme", ConnectionString: "Url=https://a.example.com"}
	prov := &flakyProvider{Provider: tenants.NewMemoryProvider(zap.NewNop().Sugar(), org)}
	lookup := ProviderSlugLookup(prov)

	got, ok, err := lookup.LookupSlug(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, org.ID, got)

	_, ok, err = lookup.LookupSlug(context.Background(), "nope")
	require.NoError(t, err, "unknown slugs are an answer, not a failure")
	assert.False(t, ok)

	prov.broken = true
	_, ok, err = lookup.LookupSlug(context.Background(), "acme")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCachedSlugLookup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	acme := uuid.New()
	next := &countingLookup{ids: map[string]uuid.UUID{"acme": acme}}
	lookup := CachedSlugLookup(rdb, next, time.Minute, zap.NewNop().Sugar())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, ok, err := lookup.LookupSlug(ctx, "acme")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, acme, got)
	}
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, acme.String(), mustGet(t, mr, slugKey("acme")))

	for i := 0; i < 2; i++ {
		_, ok, err := lookup.LookupSlug(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, next.calls, "misses are cached too")

	mr.FastForward(2 * time.Minute)
	_, _, _ = lookup.LookupSlug(ctx, "acme")
	assert.Equal(t, 3, next.calls, "entries expire")
}

func TestCachedSlugLookupDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	acme := uuid.New()
	next := &countingLookup{ids: map[string]uuid.UUID{"acme": acme}, err: errors.New("db down")}
	lookup := CachedSlugLookup(rdb, next, time.Minute, zap.NewNop().Sugar())

	_, ok, err := lookup.LookupSlug(context.Background(), "acme")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(slugKey("acme")), "a failure is not a negative answer")

	next.err = nil
	got, ok, err := lookup.LookupSlug(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acme, got)
}

func TestCachedSlugLookupRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	acme := uuid.New()
	// nil logger must not panic on the Redis errors below
	lookup := CachedSlugLookup(rdb, &countingLookup{ids: map[string]uuid.UUID{"acme": acme}}, time.Minute, nil)
	got, ok, err := lookup.LookupSlug(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acme, got)
}

func TestCachedSlugLookupWithoutRedis(t *testing.T) {
	next := &countingLookup{}
	assert.Same(t, next, CachedSlugLookup(nil, next, time.Minute, zap.NewNop().Sugar()).(*countingLookup))
}

// slowLookup blocks for delay and records the context it was called with.
type slowLookup struct {
	id    uuid.UUID
	delay time.Duration
	calls atomic.Int32
}

func (s *slowLookup) LookupSlug(ctx context.Context, _ string) (uuid.UUID, bool, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return s.id, true, nil
	case <-ctx.Done():
		return uuid.Nil, false, ctx.Err()
	}
}

func TestCachedSlugLookupCollapsesMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	next := &slowLookup{id: uuid.New(), delay: 200 * time.Millisecond}
	lookup := CachedSlugLookup(rdb, next, time.Minute, zap.NewNop().Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := lookup.LookupSlug(context.Background(), "acme")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, next.id, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedSlugLookupSharedCallOutlivesCanceledCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	next := &slowLookup{id: uuid.New(), delay: 200 * time.Millisecond}
	lookup := CachedSlugLookup(rdb, next, time.Minute, zap.NewNop().Sugar())

	first, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := lookup.LookupSlug(first, "acme")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type answer struct {
		id  uuid.UUID
		ok  bool
		err error
	}
	waiter := make(chan answer, 1)
	go func() {
		id, ok, err := lookup.LookupSlug(context.Background(), "acme")
		waiter <- answer{id, ok, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	got := <-waiter
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.Equal(t, next.id, got.id)
	assert.Equal(t, next.id.String(), mustGet(t, mr, slugKey("acme")))
}

func TestMemorySlugLookup(t *testing.T) {
	acme := uuid.New()
	next := &countingLookup{ids: map[string]uuid.UUID{"acme": acme}}
	lookup := MemorySlugLookup(next, 16, 50*time.Millisecond)
	ctx := context.Background()

	for _, s := range []string{"acme", "ACME", "Acme"} {
		got, ok, err := lookup.LookupSlug(ctx, s)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, acme, got)
	}
	_, ok, _ := lookup.LookupSlug(ctx, "ghost")
	assert.False(t, ok)
	_, ok, _ = lookup.LookupSlug(ctx, "ghost")
	assert.False(t, ok)
	assert.Equal(t, 2, next.calls)

	require.Eventually(t, func() bool {
		_, _, _ = lookup.LookupSlug(ctx, "acme")
		return next.calls > 2
	}, time.Second, 20*time.Millisecond, "entries expire")

	assert.Same(t, next, MemorySlugLookup(next, 0, time.Minute).(*countingLookup))
}

func TestMemorySlugLookupDoesNotCacheFailures(t *testing.T) {
	acme := uuid.New()
	next := &countingLookup{ids: map[string]uuid.UUID{"acme": acme}}
	counted := MemorySlugLookup(next, 16, time.Minute)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := counted.LookupSlug(canceled, "acme")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)

	got, ok, err := counted.LookupSlug(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acme, got)

	next.err = errors.New("db down")
	_, ok, err = counted.LookupSlug(context.Background(), "ghost")
	assert.Error(t, err)
	assert.False(t, ok)
	next.err = nil
	_, ok, err = counted.LookupSlug(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, next.calls, "only definite answers are kept")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
