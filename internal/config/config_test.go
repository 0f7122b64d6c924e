package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BlobBackendFile, cfg.BlobBackend)
	assert.Equal(t, int64(50*1024), cfg.MaxSegmentBytes)
	assert.Equal(t, 50, cfg.SummaryTargetWords)
	assert.Equal(t, 3, cfg.GenerateRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BLOB_BACKEND", "redis")
	t.Setenv("MAX_FILE_SIZE", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, BlobBackendRedis, cfg.BlobBackend)
	assert.Equal(t, int64(1024), cfg.MaxSegmentBytes)
}

func TestLoadInvalidBackend(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "tape")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidSegmentSize(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
