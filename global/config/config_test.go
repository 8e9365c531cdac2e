package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shuttle/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:2283", cfg.Hub.Host)
	assert.Equal(t, 5*time.Second, cfg.Hub.ReadyTimeout)
	assert.Equal(t, "hub_events", cfg.Consumer.Group)
	assert.Equal(t, 10, cfg.Consumer.MaxEventsPerFetch)
	assert.Equal(t, 10, cfg.Consumer.MessageProcessingConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Consumer.EventProcessingTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Consumer.EventDeletionThreshold)
	assert.Equal(t, 2, cfg.Backfill.Concurrency)
	assert.Equal(t, 20, cfg.Backfill.BatchSize)
	assert.Equal(t, "all", cfg.Shards.ShardKey())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("SHUTTLE_SHARDS_INDEX", "3")
	t.Setenv("SHUTTLE_BACKFILL_FIDS", "1, 2,42")

	path := filepath.Join(t.TempDir(), "shuttle.yaml")
	content := []byte(`
hub:
  host: hub.example.com:2283
  ssl: true
shards:
  total: 4
  index: 0
consumer:
  event_processing_timeout: 30s
queue:
  backend: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Hub.SSL)
	assert.Equal(t, uint64(3), cfg.Shards.Index)
	assert.Equal(t, "3", cfg.Shards.ShardKey())
	assert.Equal(t, 30*time.Second, cfg.Consumer.EventProcessingTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Queue.Kafka.Brokers)
	assert.Equal(t, []uint64{1, 2, 42}, cfg.Backfill.Fids)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Shards = ShardConfig{Total: 2, Index: 2}
	assert.True(t, errors.Is(bad.Validate(), errs.ErrConfig))

	bad = cfg
	bad.Queue.Backend = "sqs"
	assert.True(t, errors.Is(bad.Validate(), errs.ErrConfig))

	bad = cfg
	bad.Hub.Host = ""
	assert.Error(t, bad.Validate())
}
