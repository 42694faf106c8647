// Package config loads the daemon's YAML configuration file, grounded in
// cuemby-warren and hashicorp-nomad's yaml.v3 config loaders.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's full configuration surface. Only SocketPath is
// mandated by spec.md §6 ("single flag: --socket-path"); the rest are
// SPEC_FULL.md §E supplements carried from the source's own recommendations
// and implementation-defined wording.
type Config struct {
	// SocketPath is where the control-plane listener binds. Default
	// matches spec.md §6.
	SocketPath string `yaml:"socket_path"`

	// SocketMode is applied to the socket file after bind (spec.md §6:
	// "conventionally 0660").
	SocketMode uint32 `yaml:"socket_mode"`

	// SocketGroup, if set, chowns the socket file to this group name
	// after bind (spec.md §6: "an owning group that gateway processes
	// belong to").
	SocketGroup string `yaml:"socket_group"`

	// MaxConnections bounds concurrent accepted connections (spec.md §5:
	// "Implementations SHOULD bound concurrent connections"). 0 means
	// unbounded.
	MaxConnections int `yaml:"max_connections"`

	// EventChannelBuffer bounds each connection's outbound event channel
	// depth (spec.md §9 Open Question 6).
	EventChannelBuffer int `yaml:"event_channel_buffer"`

	// MetricsAddr, if non-empty, serves Prometheus metrics at
	// "<addr>/metrics".
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultSocketPath matches spec.md §6's documented default.
const DefaultSocketPath = "/var/run/pandemic/pandemic.sock"

// Defaults returns the configuration used when no file is loaded and no
// flags override it.
func Defaults() Config {
	return Config{
		SocketPath:         DefaultSocketPath,
		SocketMode:         0o660,
		MaxConnections:     0,
		EventChannelBuffer: 64,
	}
}

// Load reads and parses a YAML config file at path, starting from Defaults
// so an omitted field keeps its default value.
func Load(path string) (Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}
