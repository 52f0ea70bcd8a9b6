package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/taskgraph/internal/device"
)

// Profile overrides the device settings of a Config when selected by name.
type Profile struct {
	ComputeDevice   string `json:"compute_device,omitempty"`
	RetentionDevice string `json:"retention_device,omitempty"`
	NonBlocking     *bool  `json:"non_blocking,omitempty"`
}

// Config is the engine configuration.
type Config struct {
	ComputeDevice   string             `json:"compute_device"`         // Device accelerated tasks run on (e.g., "cuda:0")
	RetentionDevice string             `json:"retention_device"`       // Device every result is stored on
	NonBlocking     *bool              `json:"non_blocking,omitempty"` // Transfer mode override; unset picks per device
	LogLevel        string             `json:"log_level"`              // zerolog level name
	Quiet           bool               `json:"quiet"`                  // Suppress the progress bar
	StorePath       string             `json:"store_path"`             // SQLite result store; empty disables it
	Profiles        map[string]Profile `json:"profiles,omitempty"`     // Named device overrides
}

// Engine is a Config resolved into the values the executor takes.
type Engine struct {
	Compute     device.Device
	Retention   device.Device
	NonBlocking *bool
}

// Resolve applies the named profile, if any, and parses the devices.
func (c *Config) Resolve(profile string) (Engine, error) {
	compute, retention, nonBlocking := c.ComputeDevice, c.RetentionDevice, c.NonBlocking
	if profile != "" {
		p, ok := c.Profiles[profile]
		if !ok {
			return Engine{}, fmt.Errorf("unknown profile %q", profile)
		}
		if p.ComputeDevice != "" {
			compute = p.ComputeDevice
		}
		if p.RetentionDevice != "" {
			retention = p.RetentionDevice
		}
		if p.NonBlocking != nil {
			nonBlocking = p.NonBlocking
		}
	}

	var (
		e   Engine
		err error
	)
	if e.Compute, err = device.Parse(compute); err != nil {
		return Engine{}, fmt.Errorf("compute_device: %w", err)
	}
	if e.Retention, err = device.Parse(retention); err != nil {
		return Engine{}, fmt.Errorf("retention_device: %w", err)
	}
	e.NonBlocking = nonBlocking
	return e, nil
}

// Validate checks every device name, profile and the log level.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.Resolve(""); err != nil {
		return err
	}
	for name := range c.Profiles {
		if _, err := c.Resolve(name); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return nil
}
