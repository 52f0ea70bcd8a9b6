package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is the directory holding config and the default result store, under
// the home directory for global settings and the working directory for
// project settings.
const Dir = ".taskgraph"

// Load layers the global file, then the project file, over DefaultConfig and
// validates the result. Empty paths and missing files are skipped.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()
	layers := []struct{ scope, path string }{
		{"global", globalPath},
		{"project", projectPath},
	}
	for _, l := range layers {
		if l.path == "" {
			continue
		}
		if err := mergeConfigFile(cfg, l.path); err != nil {
			return nil, fmt.Errorf("loading %s config: %w", l.scope, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPaths returns ~/.taskgraph/config.json and .taskgraph/config.json.
func DefaultPaths() (global, project string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, Dir, "config.json"), filepath.Join(Dir, "config.json"), nil
}

// LoadDefault loads configuration from DefaultPaths.
func LoadDefault() (*Config, error) {
	global, project, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(global, project)
}

// mergeConfigFile decodes a JSON config file on top of base. Fields the file
// sets replace base's; profiles are merged by name.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
