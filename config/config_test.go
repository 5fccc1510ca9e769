package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"VOICEBUS_CONFIG", "VOICEBUS_MODE", "VOICEBUS_VALIDATE_TOPICS", "VOICEBUS_COMMAND_QUEUE_SIZE",
	"VOICEBUS_EVENT_QUEUE_SIZE", "VOICEBUS_SHUTDOWN_GRACE_MS", "REDIS_ADDR", "REDIS_PASSWORD",
	"REDIS_DB", "VOICEBUS_WORKER_CONCURRENCY", "AMQP_URL", "LOG_LEVEL", "METRICS_ADDR",
}

// clearEnv blanks every setting so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, problems := Load()
	assert.Empty(t, problems)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.True(t, cfg.ValidateTopics)
	assert.Equal(t, 100*time.Millisecond, cfg.ShutdownGrace)
}

func TestLoadEnv(t *testing.T) {
	t.Run("overrides every setting", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VOICEBUS_MODE", "Distributed")
		t.Setenv("VOICEBUS_VALIDATE_TOPICS", "no")
		t.Setenv("VOICEBUS_COMMAND_QUEUE_SIZE", "10")
		t.Setenv("VOICEBUS_EVENT_QUEUE_SIZE", "20")
		t.Setenv("VOICEBUS_SHUTDOWN_GRACE_MS", "250")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_PASSWORD", "secret")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("VOICEBUS_WORKER_CONCURRENCY", "8")
		t.Setenv("AMQP_URL", "amqp://rabbit/")
		t.Setenv("LOG_LEVEL", "DEBUG")
		t.Setenv("METRICS_ADDR", ":9090")

		cfg, problems := Load()
		require.Empty(t, problems)
		assert.Equal(t, ModeDistributed, cfg.Mode)
		assert.False(t, cfg.ValidateTopics)
		assert.Equal(t, 10, cfg.CommandQueueSize)
		assert.Equal(t, 20, cfg.EventQueueSize)
		assert.Equal(t, 250*time.Millisecond, cfg.ShutdownGrace)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, "secret", cfg.RedisPassword)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, 8, cfg.WorkerConcurrency)
		assert.Equal(t, "amqp://rabbit/", cfg.AMQPURL)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.MetricsAddr)
	})

	t.Run("invalid values become problems and defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VOICEBUS_MODE", "kafka")
		t.Setenv("VOICEBUS_VALIDATE_TOPICS", "maybe")
		t.Setenv("VOICEBUS_COMMAND_QUEUE_SIZE", "lots")
		t.Setenv("VOICEBUS_EVENT_QUEUE_SIZE", "0")
		t.Setenv("VOICEBUS_SHUTDOWN_GRACE_MS", "-1")
		t.Setenv("REDIS_DB", "-3")
		t.Setenv("VOICEBUS_WORKER_CONCURRENCY", "0")
		t.Setenv("LOG_LEVEL", "loud")

		cfg, problems := Load()
		fields := make([]string, 0, len(problems))
		for _, p := range problems {
			fields = append(fields, p.Field)
		}
		assert.ElementsMatch(t, []string{
			"VOICEBUS_MODE", "VOICEBUS_VALIDATE_TOPICS", "VOICEBUS_COMMAND_QUEUE_SIZE",
			"VOICEBUS_EVENT_QUEUE_SIZE", "VOICEBUS_SHUTDOWN_GRACE_MS", "REDIS_DB",
			"VOICEBUS_WORKER_CONCURRENCY", "LOG_LEVEL",
		}, fields)

		def := Default()
		assert.Equal(t, ModeLocal, cfg.Mode)
		assert.True(t, cfg.ValidateTopics)
		assert.Equal(t, def.CommandQueueSize, cfg.CommandQueueSize)
		assert.Equal(t, def.EventQueueSize, cfg.EventQueueSize)
		assert.Equal(t, def.ShutdownGrace, cfg.ShutdownGrace)
		assert.Zero(t, cfg.RedisDB)
		assert.Equal(t, def.WorkerConcurrency, cfg.WorkerConcurrency)
		assert.Equal(t, "info", cfg.LogLevel)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("file values apply below the environment", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "voicebus.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"VOICEBUS_MODE": "amqp",
			"voicebus_command_queue_size": 42,
			"VOICEBUS_VALIDATE_TOPICS": false,
			"AMQP_URL": "amqp://from-file/"
		}`), 0o600))
		t.Setenv("VOICEBUS_CONFIG", path)
		t.Setenv("AMQP_URL", "amqp://from-env/")

		cfg, problems := Load()
		require.Empty(t, problems)
		assert.Equal(t, path, cfg.ConfigPath)
		assert.Equal(t, ModeAMQP, cfg.Mode)
		assert.Equal(t, 42, cfg.CommandQueueSize)
		assert.False(t, cfg.ValidateTopics)
		assert.Equal(t, "amqp://from-env/", cfg.AMQPURL)
	})

	t.Run("missing file is a problem", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VOICEBUS_CONFIG", filepath.Join(t.TempDir(), "absent.json"))

		cfg, problems := Load()
		require.Len(t, problems, 1)
		assert.Equal(t, "VOICEBUS_CONFIG", problems[0].Field)
		assert.Equal(t, ModeLocal, cfg.Mode)
	})

	t.Run("malformed file is a problem", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))
		t.Setenv("VOICEBUS_CONFIG", path)

		_, problems := Load()
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0].String(), "invalid JSON")
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseLevel(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
