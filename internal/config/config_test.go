package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, ProgressAsync, cfg.ProgressMode)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"activity_logged", "achievement_unlocked"}, cfg.ConsumerTopics)
	assert.True(t, cfg.AuthEnabled)
	assert.Empty(t, cfg.RedisAddress)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.OutboxClaimLease)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	t.Setenv("PROGRESS_MODE", "inline")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "15")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("LOG_FORMAT_JSON", "true")
	t.Setenv("OUTBOX_CLAIM_LEASE", "2m")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, ProgressInline, cfg.ProgressMode)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, 15, cfg.RateLimitPerMinute)
	assert.False(t, cfg.AuthEnabled)
	assert.True(t, cfg.LogFormatJSON)
	assert.Equal(t, 2*time.Minute, cfg.OutboxClaimLease)
}

func TestSplitAndTrimDropsBlanks(t *testing.T) {
	assert.Nil(t, splitAndTrim(" , ,"))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim("a,, b "))
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PROGRESS_MODE", "sometimes")
	t.Setenv("OUTBOX_BATCH_SIZE", "many")
	t.Setenv("DLQ_BASE_DELAY", "soon")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, ProgressAsync, cfg.ProgressMode)
	assert.Equal(t, 25, cfg.OutboxBatchSize)
	assert.Equal(t, time.Minute, cfg.DLQBaseDelay)
	assert.False(t, cfg.TracingEnabled)
}
