// Package config provides configuration loading and validation for the
// streaming worker.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Config represents the full worker configuration
type Config struct {
	Platform  PlatformConfig  `json:"platform"`
	NATS      NATSConfig      `json:"nats"`
	Database  DatabaseConfig  `json:"database"`
	WebSocket WebSocketConfig `json:"websocket"`
	Streamer  StreamerConfig  `json:"streamer"`
}

// PlatformConfig identifies this worker instance
type PlatformConfig struct {
	Name string `json:"name"` // Service name for logs and metrics
	// DiagnosticsAddr is the listen address for /healthz and /metrics
	DiagnosticsAddr string `json:"diagnostics_addr"`
	// ServiceURL is the public base URL used to render annotation
	// permalinks; optional
	ServiceURL string `json:"service_url"`
}

// NATSConfig configures the message bus connection
type NATSConfig struct {
	URLs []string `json:"urls"`
	// Stream is the JetStream stream carrying realtime events
	Stream string `json:"stream"`
	// AnnotationTopic and UserTopic are the subjects consumed from Stream
	AnnotationTopic string `json:"annotation_topic"`
	UserTopic       string `json:"user_topic"`
}

// DatabaseConfig configures the PostgreSQL connection pool
type DatabaseConfig struct {
	URL      string `json:"url"`
	MaxConns int32  `json:"max_conns"`
}

// WebSocketConfig configures the client-facing WebSocket server
type WebSocketConfig struct {
	Addr string `json:"addr"`
	Path string `json:"path"`
	// AllowedOrigins restricts the Origin header on upgrade; empty allows all
	AllowedOrigins []string `json:"allowed_origins"`
}

// StreamerConfig tunes the core dispatch machinery
type StreamerConfig struct {
	// QueueCapacity bounds the shared work queue
	QueueCapacity int `json:"queue_capacity"`
	// EnqueueTimeout is how long producers wait on a full queue before
	// dropping the message (e.g. "250ms")
	EnqueueTimeout string `json:"enqueue_timeout"`
	// SampleInterval is the diagnostics sampling period (e.g. "10s")
	SampleInterval string `json:"sample_interval"`
}

// Default returns a configuration with sensible defaults applied
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			Name:            "streamd",
			DiagnosticsAddr: ":9090",
		},
		NATS: NATSConfig{
			URLs:            []string{"nats://127.0.0.1:4222"},
			Stream:          "realtime",
			AnnotationTopic: "realtime.annotation",
			UserTopic:       "realtime.user",
		},
		Database: DatabaseConfig{
			MaxConns: 4,
		},
		WebSocket: WebSocketConfig{
			Addr: ":5001",
			Path: "/ws",
		},
		Streamer: StreamerConfig{
			QueueCapacity:  4096,
			EnqueueTimeout: "250ms",
			SampleInterval: "10s",
		},
	}
}

// Validate checks the configuration for required fields and parseable values
func (c *Config) Validate() error {
	if c.Platform.Name == "" {
		return errors.New("platform.name is required")
	}
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if c.NATS.Stream == "" {
		return errors.New("nats.stream is required")
	}
	if c.NATS.AnnotationTopic == "" || c.NATS.UserTopic == "" {
		return errors.New("nats.annotation_topic and nats.user_topic are required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.WebSocket.Addr == "" {
		return errors.New("websocket.addr is required")
	}
	if c.Streamer.QueueCapacity <= 0 {
		return errors.New("streamer.queue_capacity must be positive")
	}
	if _, err := c.Streamer.ParseEnqueueTimeout(); err != nil {
		return fmt.Errorf("streamer.enqueue_timeout: %w", err)
	}
	if _, err := c.Streamer.ParseSampleInterval(); err != nil {
		return fmt.Errorf("streamer.sample_interval: %w", err)
	}
	return nil
}

// ParseEnqueueTimeout parses the producer enqueue timeout
func (s StreamerConfig) ParseEnqueueTimeout() (time.Duration, error) {
	return parseDuration(s.EnqueueTimeout, 250*time.Millisecond)
}

// ParseSampleInterval parses the diagnostics sampling interval
func (s StreamerConfig) ParseSampleInterval() (time.Duration, error) {
	return parseDuration(s.SampleInterval, 10*time.Second)
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", raw)
	}
	return d, nil
}

// Load reads configuration from a JSON file, applying defaults for
// omitted fields, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ToJSON converts config to JSON string for debugging
func (c *Config) ToJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
