package config

import "path/filepath"

// DefaultConfig returns the default configuration: everything on the CPU,
// info logging, results kept in the project directory.
func DefaultConfig() *Config {
	return &Config{
		ComputeDevice:   "cpu",
		RetentionDevice: "cpu",
		LogLevel:        "info",
		StorePath:       filepath.Join(Dir, "results.db"),
		Profiles: map[string]Profile{
			"cuda": {
				ComputeDevice: "cuda:0",
			},
		},
	}
}
