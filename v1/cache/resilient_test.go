package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failing errors on every operation, standing in for a dead backend.
type failing[T any] struct{}

func (failing[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	return zero, false, errors.New("backend down")
}

func (failing[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	return errors.New("backend down")
}

func (failing[T]) Invalidate(ctx context.Context, key string) error {
	return errors.New("backend down")
}

func (failing[T]) InvalidateTag(ctx context.Context, tag string) error {
	return errors.New("backend down")
}

func TestResilientSwallowsBackendErrors(t *testing.T) {
	ctx := context.Background()
	c := NewResilient[string](failing[string]{})

	if err := c.Set(ctx, "foo", "bar", time.Minute); err != nil {
		t.Fatalf("expected swallowed set error, got %v", err)
	}
	if _, ok, err := c.Get(ctx, "foo"); ok || err != nil {
		t.Fatalf("expected miss without error, got ok %v err %v", ok, err)
	}
	if err := c.Invalidate(ctx, "foo"); err != nil {
		t.Fatalf("expected swallowed invalidate error, got %v", err)
	}
	if err := c.InvalidateTag(ctx, "tag"); err != nil {
		t.Fatalf("expected swallowed tag error, got %v", err)
	}
}

func TestResilientPassesThroughHits(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemory[string](WithSweepInterval[string](0))
	defer inner.Close()
	c := NewResilient[string](inner)

	if err := c.Set(ctx, "foo", "bar", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, err := c.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("expected bar, got %v ok %v err %v", v, ok, err)
	}
}
