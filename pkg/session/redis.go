package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPersister stores snapshots as plain string values under
// <prefix><key>. A zero TTL keeps them forever.
type RedisPersister struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisPersister wraps client. prefix namespaces keys, e.g. per profile.
func NewRedisPersister(client redis.Cmdable, prefix string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, prefix: prefix, ttl: ttl}
}

func (p *RedisPersister) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

func (p *RedisPersister) Save(ctx context.Context, key string, data []byte) error {
	if err := p.client.Set(ctx, p.prefix+key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (p *RedisPersister) Delete(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}
