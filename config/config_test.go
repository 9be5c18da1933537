package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"url": "postgres://localhost/annotations"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "streamd", cfg.Platform.Name)
	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "realtime.annotation", cfg.NATS.AnnotationTopic)
	assert.Equal(t, 4096, cfg.Streamer.QueueCapacity)
	assert.Equal(t, "postgres://localhost/annotations", cfg.Database.URL)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"platform": {"name": "streamd-test", "diagnostics_addr": ":9999"},
		"nats": {
			"urls": ["nats://bus:4222"],
			"stream": "events",
			"annotation_topic": "events.annotation",
			"user_topic": "events.user"
		},
		"database": {"url": "postgres://db/h", "max_conns": 8},
		"websocket": {"addr": ":6001", "path": "/stream"},
		"streamer": {"queue_capacity": 128, "enqueue_timeout": "100ms", "sample_interval": "5s"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "streamd-test", cfg.Platform.Name)
	assert.Equal(t, "events", cfg.NATS.Stream)
	assert.Equal(t, int32(8), cfg.Database.MaxConns)
	assert.Equal(t, ":6001", cfg.WebSocket.Addr)
	assert.Equal(t, 128, cfg.Streamer.QueueCapacity)

	timeout, err := cfg.Streamer.ParseEnqueueTimeout()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, timeout)

	interval, err := cfg.Streamer.ParseSampleInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, interval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"missing nats urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls"},
		{"missing stream", func(c *Config) { c.NATS.Stream = "" }, "nats.stream"},
		{"missing topics", func(c *Config) { c.NATS.UserTopic = "" }, "user_topic"},
		{"zero queue", func(c *Config) { c.Streamer.QueueCapacity = 0 }, "queue_capacity"},
		{"bad timeout", func(c *Config) { c.Streamer.EnqueueTimeout = "soon" }, "enqueue_timeout"},
		{"negative interval", func(c *Config) { c.Streamer.SampleInterval = "-3s" }, "sample_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.URL = "postgres://db/h"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationDefaults(t *testing.T) {
	var s StreamerConfig

	timeout, err := s.ParseEnqueueTimeout()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timeout)

	interval, err := s.ParseSampleInterval()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, interval)
}
