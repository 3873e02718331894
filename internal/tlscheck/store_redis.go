package tlscheck

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.trai.ch/zerr"
)

type redisKV struct {
	client *redis.Client
}

func openRedisKV(cfg Config) (*redisKV, error) {
	opts := &redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	}
	if cfg.Storage.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, zerr.With(zerr.Wrap(err, "failed to connect to redis"), "addr", opts.Addr)
	}
	return &redisKV{client: client}, nil
}

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores without expiration; freshness is decided by the reader.
func (r *redisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *redisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisKV) Close() error {
	return r.client.Close()
}
