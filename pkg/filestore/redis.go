package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nainya/folio/pkg/resource"
)

// RedisScheme prefixes ids of the redis adapter.
const RedisScheme = "redis://"

// RedisConfig holds connection settings for the redis adapter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

// Redis stores content as plain string values.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Adapter = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Handles(id resource.ID) bool {
	return id.HasScheme(RedisScheme)
}

func (r *Redis) key(id resource.ID) string {
	return r.prefix + strings.TrimPrefix(id.String(), RedisScheme)
}

func (r *Redis) Upload(ctx context.Context, src Upload, owner *resource.Resource) (*File, error) {
	defer closeSource(src)
	loc, err := location(owner, src.Filename)
	if err != nil {
		return nil, fmt.Errorf("redis upload: %w", err)
	}
	data, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, fmt.Errorf("redis upload: %w", err)
	}

	id := resource.ID(RedisScheme + loc)
	if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("redis upload %s: %w", id, err)
	}
	return &File{ID: id, ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (r *Redis) FindBy(ctx context.Context, id resource.ID) (*File, error) {
	if !r.Handles(id) {
		return nil, notFound(id)
	}
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	return &File{ID: id, ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (r *Redis) Delete(ctx context.Context, id resource.ID) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}
