package idempotency

import (
	"context"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/equipment-reservations/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapBackend struct {
	data map[string]redisadapter.IdempResponse
	ttls map[string]time.Duration
}

func (m *mapBackend) Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error) {
	resp, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *mapBackend) Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	if _, ok := m.data[key]; !ok {
		m.data[key] = resp
		m.ttls[key] = ttl
	}
	return nil
}

func TestIdempotency_StoresFirstResponse(t *testing.T) {
	backend := &mapBackend{data: map[string]redisadapter.IdempResponse{}, ttls: map[string]time.Duration{}}
	idemp := NewIdempotency(backend, time.Hour)
	ctx := context.Background()

	got, err := idemp.Get(ctx, "key-0123456789abcdef")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, idemp.Set(ctx, "key-0123456789abcdef", Response{Status: 201, Result: []byte(`{"id":1}`)}))
	require.NoError(t, idemp.Set(ctx, "key-0123456789abcdef", Response{Status: 400, Result: []byte(`oops`)}))

	got, err = idemp.Get(ctx, "key-0123456789abcdef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, time.Hour, backend.ttls["key-0123456789abcdef"])
}

func TestIdempotency_DisabledIsNoop(t *testing.T) {
	idemp := NewIdempotency(nil, time.Hour)
	assert.False(t, idemp.Enabled())
	require.NoError(t, idemp.Set(context.Background(), "k", Response{Status: 201}))
	got, err := idemp.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
