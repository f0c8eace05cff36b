package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tagSetTTL bounds how long a tag membership set can outlive its entries.
// Entries expire within seconds; a stale member in the set only causes a
// harmless DEL of an already-missing key.
const tagSetTTL = 5 * time.Minute

// Redis implements Cache using a Redis backend shared by all server
// instances. Tag groups are kept as Redis sets so a whole group can be
// dropped in one round trip.
type Redis[T any] struct {
	client *redis.Client
	prefix string
	codec  Codec
}

// NewRedis returns a new Redis cache using the provided client.
// If codec is nil, JSONCodec is used by default.
func NewRedis[T any](client *redis.Client, prefix string, codec Codec) *Redis[T] {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Redis[T]{client: client, prefix: prefix, codec: codec}
}

func (c *Redis[T]) key(key string) string { return c.prefix + ":" + key }
func (c *Redis[T]) tag(tag string) string { return c.prefix + ":tag:" + tag }

// Get implements Cache.Get.
func (c *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *Redis[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(key), data, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, c.tag(tag), c.key(key))
		pipe.Expire(ctx, c.tag(tag), tagSetTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate implements Cache.Invalidate.
func (c *Redis[T]) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// InvalidateTag implements Cache.InvalidateTag.
func (c *Redis[T]) InvalidateTag(ctx context.Context, tag string) error {
	members, err := c.client.SMembers(ctx, c.tag(tag)).Result()
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(members) > 0 {
		pipe.Del(ctx, members...)
	}
	pipe.Del(ctx, c.tag(tag))
	_, err = pipe.Exec(ctx)
	return err
}
