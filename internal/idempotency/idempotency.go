package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/equipment-reservations/internal/adapters/redis"
)

type backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

// Idempotency replays the stored response of a POST that carried the same Idempotency-Key.
// A nil backend turns it into a no-op.
type Idempotency struct {
	redis backend
	ttl   time.Duration
}

func NewIdempotency(redis backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Enabled() bool {
	return i != nil && i.redis != nil
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if !i.Enabled() || key == "" {
		return nil, nil
	}
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if !i.Enabled() || key == "" {
		return nil
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}
