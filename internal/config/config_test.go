package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "STORE_DRIVER", "IDEMPOTENCY_TTL", "RATE_LIMIT_PER_MINUTE", "STRICT_CREDIT_BACK", "OUTBOX_INTERVAL", "OUTBOX_BATCH", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreCRDB, cfg.StoreDriver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 100, cfg.RateLimitPerMin)
	assert.False(t, cfg.StrictCreditBack)
	assert.Equal(t, 5*time.Second, cfg.OutboxInterval)
	assert.Equal(t, 10, cfg.OutboxBatch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreMemory)
	t.Setenv("STRICT_CREDIT_BACK", "true")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("OUTBOX_INTERVAL", "250ms")
	t.Setenv("OUTBOX_BATCH", "-4")
	t.Setenv("IDEMPOTENCY_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.True(t, cfg.StrictCreditBack)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxInterval)
	assert.Equal(t, 10, cfg.OutboxBatch, "non-positive batch falls back")
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL, "unparseable ttl falls back")
}
