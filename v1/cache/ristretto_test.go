package cache

import (
	"context"
	"testing"
	"time"
)

func newRistrettoCache[T any](t *testing.T) (*Ristretto[T], context.Context) {
	t.Helper()
	c := NewRistretto[T]()
	t.Cleanup(c.Close)
	return c, context.Background()
}

func TestRistrettoCacheGetSetInvalidate(t *testing.T) {
	c, ctx := newRistrettoCache[string](t)

	if err := c.Set(ctx, "foo", "bar", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := c.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("Get: expected bar, got %v err %v", v, err)
	}
	if err := c.Invalidate(ctx, "foo"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, err := c.Get(ctx, "foo"); ok || err != nil {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRistrettoCacheExpiration(t *testing.T) {
	c, ctx := newRistrettoCache[string](t)

	if err := c.Set(ctx, "foo", "bar", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, err := c.Get(ctx, "foo"); ok || err != nil {
		t.Fatal("expected key to expire")
	}
}

func TestRistrettoCacheInvalidateTag(t *testing.T) {
	c, ctx := newRistrettoCache[int](t)

	if err := c.Set(ctx, "a", 1, time.Minute, "group"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := c.Set(ctx, "b", 2, time.Minute, "other"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := c.InvalidateTag(ctx, "group"); err != nil {
		t.Fatalf("invalidate tag: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("expected a invalidated")
	}
	if v, ok, _ := c.Get(ctx, "b"); !ok || v != 2 {
		t.Fatalf("expected b to survive, got %v ok %v", v, ok)
	}
}

func TestRistrettoCacheContext(t *testing.T) {
	c, _ := newRistrettoCache[string](t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, "foo", "bar", time.Minute); err == nil {
		t.Fatal("expected context error on set")
	}
}
