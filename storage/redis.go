package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "room-code:"

// A reservation outlives any realistic room; the cleanup job and Release
// free codes earlier.
const codeReservationTTL = 24 * time.Hour

// RedisCodeReserver claims room codes with SETNX so several server
// instances never hand out the same code.
type RedisCodeReserver struct {
	client *redis.Client
}

func NewRedisCodeReserver(ctx context.Context, url string) (*RedisCodeReserver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisCodeReserver{client: client}, nil
}

func (r *RedisCodeReserver) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := r.client.SetNX(ctx, codeKeyPrefix+code, time.Now().Unix(), codeReservationTTL).Result()
	if err != nil {
		return false, dbError(err)
	}
	return ok, nil
}

func (r *RedisCodeReserver) Release(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, codeKeyPrefix+code).Err(); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *RedisCodeReserver) Close() error {
	return r.client.Close()
}
