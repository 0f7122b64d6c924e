package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	blobKeyPrefix = "blob:"
	dirKeyPrefix  = "dir:"
)

// RedisBlob stores history blobs in Redis. Each file is a string value and
// each directory is a set of the base names it contains, so List stays cheap.
type RedisBlob struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Blob = (*RedisBlob)(nil)

// NewRedisBlob creates a Redis-backed blob store.
func NewRedisBlob(redisURL string, logger *slog.Logger) *RedisBlob {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	return &RedisBlob{
		client: rdb,
		logger: logger,
	}
}

func (r *RedisBlob) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisBlob) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	return nil
}

func (r *RedisBlob) Read(ctx context.Context, p string) ([]byte, error) {
	data, err := r.client.Get(ctx, blobKeyPrefix+p).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func (r *RedisBlob) Write(ctx context.Context, p string, data []byte) error {
	dir, base := path.Split(p)
	dir = path.Clean(dir)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, blobKeyPrefix+p, data, 0)
	pipe.SAdd(ctx, dirKeyPrefix+dir, base)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (r *RedisBlob) List(ctx context.Context, dir string) ([]string, error) {
	names, err := r.client.SMembers(ctx, dirKeyPrefix+path.Clean(dir)).Result()
	if err != nil {
		if err == redis.Nil {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisBlob) Exists(ctx context.Context, p string) (bool, error) {
	n, err := r.client.Exists(ctx, blobKeyPrefix+p).Result()
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return n > 0, nil
}
