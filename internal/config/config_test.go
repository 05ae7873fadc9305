package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mestor/internal/subscription"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mestor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 100, cfg.Subscription.MaxMessagesPerTick)
	assert.Equal(t, 100*time.Millisecond, cfg.Subscription.PollInterval)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
backend: pebble
path: /var/lib/mestor
log_level: debug
subscription:
  position_update_interval: 10
  poll_interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPebble, cfg.Backend)
	assert.Equal(t, "/var/lib/mestor", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Subscription.PositionUpdateInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Subscription.PollInterval)
	assert.Equal(t, 100, cfg.Subscription.MaxMessagesPerTick, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "backend: pebble\npath: /from/file\n")
	t.Setenv("MESTOR_DB", "/from/env")
	t.Setenv("MESTOR_SUBSCRIPTION_MAX_MESSAGES_PER_TICK", "7")
	t.Setenv("MESTOR_SUBSCRIPTION_POLL_INTERVAL", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPebble, cfg.Backend, "file value survives when env is unset")
	assert.Equal(t, "/from/env", cfg.Path)
	assert.Equal(t, 7, cfg.Subscription.MaxMessagesPerTick)
	assert.Equal(t, time.Second, cfg.Subscription.PollInterval)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("MESTOR_SUBSCRIPTION_MAX_MESSAGES_PER_TICK", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "backend: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "mongo" }, "unknown backend"},
		{"sqlite without path", func(c *Config) { c.Path = "" }, "requires a path"},
		{"bad fsync", func(c *Config) { c.Fsync = "sometimes" }, "fsync"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"zero batch", func(c *Config) { c.Subscription.MaxMessagesPerTick = 0 }, "max_messages_per_tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	mem := Default()
	mem.Backend = BackendMemory
	mem.Path = ""
	assert.NoError(t, mem.Validate(), "memory backend needs no path")
}

func TestSubscriptionApply(t *testing.T) {
	s := Subscription{MaxMessagesPerTick: 5, PositionUpdateInterval: 6, PollInterval: time.Second}
	got := s.Apply(subscription.Config{StreamName: "orders", SubscriberID: "billing"})
	assert.Equal(t, subscription.Config{
		StreamName:             "orders",
		SubscriberID:           "billing",
		MaxMessagesPerTick:     5,
		PositionUpdateInterval: 6,
		PollInterval:           time.Second,
	}, got)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "stream", "orders")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "orders", rec["stream"])

	_, err = NewLogger("info", "xml", &buf)
	assert.Error(t, err)
	_, err = NewLogger("loud", "text", &buf)
	assert.Error(t, err)
}
