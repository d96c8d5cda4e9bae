package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"arenaoj/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	return mr, redisCache
}

func TestGetWithCachedLoadsAndCaches(t *testing.T) {
	_, redisCache := newTestCache(t)
	loads := 0
	loader := func(ctx context.Context) (string, error) {
		loads++
		return "value", nil
	}

	for i := 0; i < 2; i++ {
		value, err := cache.GetWithCached[string](
			context.Background(),
			redisCache,
			"key",
			time.Minute,
			time.Second,
			func(v string) bool { return v == "" },
			func(v string) string { return v },
			func(raw string) (string, error) { return raw, nil },
			loader,
		)
		if err != nil {
			t.Fatalf("unexpected error on read %d: %v", i+1, err)
		}
		if value != "value" {
			t.Fatalf("read %d: expected value, got %q", i+1, value)
		}
	}
	if loads != 1 {
		t.Fatalf("expected 1 load, got %d", loads)
	}
}

func TestGetWithCachedCachesNull(t *testing.T) {
	mr, redisCache := newTestCache(t)
	loads := 0
	loader := func(ctx context.Context) (string, error) {
		loads++
		return "", nil
	}

	for i := 0; i < 2; i++ {
		value, err := cache.GetWithCached[string](
			context.Background(),
			redisCache,
			"absent",
			time.Minute,
			time.Second,
			func(v string) bool { return v == "" },
			func(v string) string { return v },
			func(raw string) (string, error) { return raw, nil },
			loader,
		)
		if err != nil {
			t.Fatalf("unexpected error on read %d: %v", i+1, err)
		}
		if value != "" {
			t.Fatalf("read %d: expected empty value, got %q", i+1, value)
		}
	}
	if loads != 1 {
		t.Fatalf("expected 1 load, got %d", loads)
	}
	cached, err := mr.Get("absent")
	if err != nil {
		t.Fatalf("read raw key failed: %v", err)
	}
	if cached != cache.NullCacheValue {
		t.Fatalf("expected null sentinel, got %q", cached)
	}
}

func TestGetWithCachedPropagatesLoaderError(t *testing.T) {
	_, redisCache := newTestCache(t)
	loaderErr := errors.New("db down")

	_, err := cache.GetWithCached[string](
		context.Background(),
		redisCache,
		"key",
		time.Minute,
		time.Second,
		func(v string) bool { return v == "" },
		func(v string) string { return v },
		func(raw string) (string, error) { return raw, nil },
		func(ctx context.Context) (string, error) { return "", loaderErr },
	)
	if !errors.Is(err, loaderErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestUpdateCachedInvalidates(t *testing.T) {
	mr, redisCache := newTestCache(t)
	if err := redisCache.Set(context.Background(), "key", "stale", time.Minute); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	err := cache.UpdateCached(context.Background(), redisCache, "key", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists("key") {
		t.Fatal("expected cache key deleted after update")
	}
}

func TestJitterTTLStaysWithinBounds(t *testing.T) {
	ttl := time.Minute
	for i := 0; i < 50; i++ {
		jittered := cache.JitterTTL(ttl)
		if jittered > ttl || jittered < ttl-ttl/10 {
			t.Fatalf("jittered ttl %s out of bounds", jittered)
		}
	}
}

func TestSetNXAndIncr(t *testing.T) {
	_, redisCache := newTestCache(t)
	ctx := context.Background()

	ok, err := redisCache.SetNX(ctx, "lock", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got ok=%v err=%v", ok, err)
	}
	ok, err = redisCache.SetNX(ctx, "lock", "2", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to lose, got ok=%v err=%v", ok, err)
	}

	for i := int64(1); i <= 3; i++ {
		count, err := redisCache.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if count != i {
			t.Fatalf("expected counter %d, got %d", i, count)
		}
	}
}
