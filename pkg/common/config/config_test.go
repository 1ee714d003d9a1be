package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "health-documents", cfg.DocumentBucket)
	assert.Equal(t, 60*time.Second, cfg.ClassifierTimeout)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CLASSIFIER_TIMEOUT", "15s")
	t.Setenv("REDIS_HOST", "redis")

	cfg := Load()
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Second, cfg.ClassifierTimeout)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.KafkaEnabled())
}

func TestLoadConfigFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("POSTGRES_DB: intake\nSERVER_PORT: \"7000\"\n"), 0o600))
	t.Setenv("TRIAGE_CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9100")

	cfg := Load()
	assert.Equal(t, "intake", cfg.PostgresDB)
	assert.Equal(t, "9100", cfg.ServerPort)
}
