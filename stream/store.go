package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrFrameNotFound = errors.New("frame not found")

type FrameStore interface {
	ReadFrame(ctx context.Context, id string) (*Frame, error)
	Close() error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and pings it once.
func NewRedisStore(addr, password string, db int) (FrameStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &redisStore{client: client}, nil
}

// ReadFrame loads the JSON-encoded frame stored under id.
func (r *redisStore) ReadFrame(ctx context.Context, id string) (*Frame, error) {
	b, err := r.client.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	} else if err != nil {
		return nil, err
	}

	var frame Frame
	if err = json.Unmarshal(b, &frame); err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", id, err)
	}
	return &frame, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
