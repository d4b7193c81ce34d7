// Package config provides configuration structures and defaults for the
// waterfall display and its companion tools.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`    // Stream server connection settings
	Display   DisplayConfig   `yaml:"display"`   // Waterfall rendering settings
	Discovery DiscoveryConfig `yaml:"discovery"` // LAN discovery settings
	Recording RecordingConfig `yaml:"recording"` // I/Q capture settings
	Feed      FeedConfig      `yaml:"feed"`      // Row feed and metrics endpoint
	Logging   LoggingConfig   `yaml:"logging"`   // Logging configuration
}

// ServerConfig identifies the stream server to connect to.
type ServerConfig struct {
	Host           string        `yaml:"host"`            // Stream server hostname or IP
	Port           int           `yaml:"port"`            // Stream server TCP port
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // Dial and header read timeout
	RetryInterval  time.Duration `yaml:"retry_interval"`  // Pause between reconnect attempts
}

// DisplayConfig contains waterfall rendering parameters.
type DisplayConfig struct {
	Width        int     `yaml:"width"`          // Canvas width in pixels
	Height       int     `yaml:"height"`         // Canvas height in pixels
	GainOffsetDB float64 `yaml:"gain_offset_db"` // Manual display gain offset in dB
}

// DiscoveryConfig controls LAN peer discovery.
type DiscoveryConfig struct {
	Enabled     bool   `yaml:"enabled"`      // Participate in UDP discovery
	NodeID      string `yaml:"node_id"`      // Unique node identifier (defaults to hostname)
	AutoConnect bool   `yaml:"auto_connect"` // Connect to discovered servers automatically
}

// RecordingConfig controls I/Q capture of the incoming stream.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record display-rate samples while streaming
	OutputDir  string `yaml:"output_dir"`  // Output directory for capture files
	FilePrefix string `yaml:"file_prefix"` // Prefix for capture filenames
}

// FeedConfig controls the HTTP endpoint serving waterfall rows and metrics.
type FeedConfig struct {
	Enabled bool   `yaml:"enabled"` // Serve the websocket row feed
	Listen  string `yaml:"listen"`  // HTTP listen address
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level string `yaml:"level"` // Log level (debug, info, warn, error)
	File  string `yaml:"file"`  // Log file path, empty for stderr
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "waterfall"
	}
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           4536,
			ConnectTimeout: 5 * time.Second,
			RetryInterval:  5 * time.Second,
		},
		Display: DisplayConfig{
			Width:        1024,
			Height:       600,
			GainOffsetDB: 0.0,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			NodeID:      hostname,
			AutoConnect: true,
		},
		Recording: RecordingConfig{
			Enabled:    false,
			OutputDir:  "./captures",
			FilePrefix: "waterfall",
		},
		Feed: FeedConfig{
			Enabled: true,
			Listen:  ":8090",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Save writes the configuration to path as YAML. The display calls this on
// shutdown so window geometry and the gain offset survive restarts.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
