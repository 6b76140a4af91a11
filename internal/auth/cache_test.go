package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache()
	cache.now = clock.Now
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss on empty cache: %v %v", ok, err)
	}

	if err := cache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := cache.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("fresh entry: %q %v", v, ok)
	}

	clock.Advance(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("entry must expire with its TTL")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_ = cache.Set(ctx, "k", "v", time.Minute)
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("deleted entry must not serve")
	}
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
}

func TestMemoryCacheZeroTTLIsNoop(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_ = cache.Set(ctx, "k", "v", 0)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("zero TTL must not store")
	}
}
