package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ExampleConfigPath is the checked-in example configuration.
const ExampleConfigPath = "config/smallsmt.example.json"

const (
	defaultHost              = "localhost"
	defaultDriverPort        = 9070
	defaultListenPort        = 9072
	defaultResponseTimeout   = 500 * time.Millisecond
	defaultReceiveTimeout    = 500 * time.Millisecond
	defaultJoinTimeout       = 3 * time.Second
	defaultReceiveBufferSize = 1024
)

// DriverConfig is the on-disk driver configuration. Every field is optional;
// the Get* methods supply defaults for anything left out.
type DriverConfig struct {
	Host                *string  `json:"host,omitempty"`
	DriverPort          *int     `json:"driver_port,omitempty"`
	ListenPort          *int     `json:"listen_port,omitempty"`
	ResponseTimeout     *string  `json:"response_timeout,omitempty"`      // duration string like "500ms"
	ReceiveTimeout      *string  `json:"receive_timeout,omitempty"`       // duration string like "500ms"
	ListenerJoinTimeout *string  `json:"listener_join_timeout,omitempty"` // duration string like "3s"
	MaxDispatchTime     *string  `json:"max_dispatch_time,omitempty"`     // "" or "0s" disables the cap
	StatsInterval       *string  `json:"stats_interval,omitempty"`        // "" or "0s" disables periodic logging
	ReceiveBuffer       *int     `json:"receive_buffer,omitempty"`
	FeedRateMmPerMinute *float64 `json:"feed_rate_mm_per_minute,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// DefaultDriverConfig returns a config with every field populated.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Host:                ptrString(defaultHost),
		DriverPort:          ptrInt(defaultDriverPort),
		ListenPort:          ptrInt(defaultListenPort),
		ResponseTimeout:     ptrString(defaultResponseTimeout.String()),
		ReceiveTimeout:      ptrString(defaultReceiveTimeout.String()),
		ListenerJoinTimeout: ptrString(defaultJoinTimeout.String()),
		MaxDispatchTime:     ptrString("0s"),
		StatsInterval:       ptrString("0s"),
		ReceiveBuffer:       ptrInt(defaultReceiveBufferSize),
		FeedRateMmPerMinute: ptrFloat64(0),
	}
}

// LoadDriverConfig loads a DriverConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadDriverConfig(path string) (*DriverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DriverConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DriverConfig) Validate() error {
	if c.Host != nil && *c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	for name, port := range map[string]*int{"driver_port": c.DriverPort, "listen_port": c.ListenPort} {
		if port != nil && (*port <= 0 || *port > 65535) {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, *port)
		}
	}
	if c.GetDriverPort() == c.GetListenPort() {
		return fmt.Errorf("driver_port and listen_port must differ, both are %d", c.GetDriverPort())
	}

	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"response_timeout", c.ResponseTimeout, true},
		{"receive_timeout", c.ReceiveTimeout, true},
		{"listener_join_timeout", c.ListenerJoinTimeout, true},
		{"max_dispatch_time", c.MaxDispatchTime, false},
		{"stats_interval", c.StatsInterval, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.ReceiveBuffer != nil && *c.ReceiveBuffer < 0 {
		return fmt.Errorf("receive_buffer must be non-negative, got %d", *c.ReceiveBuffer)
	}
	if c.FeedRateMmPerMinute != nil {
		if f := *c.FeedRateMmPerMinute; math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return fmt.Errorf("feed_rate_mm_per_minute must be a finite value >= 0, got %v", f)
		}
	}
	return nil
}

func (c *DriverConfig) GetHost() string {
	if c.Host == nil || *c.Host == "" {
		return defaultHost
	}
	return *c.Host
}

func (c *DriverConfig) GetDriverPort() int {
	if c.DriverPort == nil {
		return defaultDriverPort
	}
	return *c.DriverPort
}

func (c *DriverConfig) GetListenPort() int {
	if c.ListenPort == nil {
		return defaultListenPort
	}
	return *c.ListenPort
}

// parseDuration returns def when s is unset or unparseable.
func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func (c *DriverConfig) GetResponseTimeout() time.Duration {
	return parseDuration(c.ResponseTimeout, defaultResponseTimeout)
}

func (c *DriverConfig) GetReceiveTimeout() time.Duration {
	return parseDuration(c.ReceiveTimeout, defaultReceiveTimeout)
}

func (c *DriverConfig) GetListenerJoinTimeout() time.Duration {
	return parseDuration(c.ListenerJoinTimeout, defaultJoinTimeout)
}

// GetMaxDispatchTime returns the cap on a single dispatch; zero means none.
func (c *DriverConfig) GetMaxDispatchTime() time.Duration {
	return parseDuration(c.MaxDispatchTime, 0)
}

// GetStatsInterval returns how often listener and dispatch statistics are
// logged; zero disables it.
func (c *DriverConfig) GetStatsInterval() time.Duration {
	return parseDuration(c.StatsInterval, 0)
}

func (c *DriverConfig) GetReceiveBuffer() int {
	if c.ReceiveBuffer == nil {
		return defaultReceiveBufferSize
	}
	return *c.ReceiveBuffer
}

// GetFeedRate returns the configured feed rate and whether one was set.
func (c *DriverConfig) GetFeedRate() (float64, bool) {
	if c.FeedRateMmPerMinute == nil {
		return 0, false
	}
	return *c.FeedRateMmPerMinute, true
}
