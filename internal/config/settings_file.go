package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuntimeConfigSeed reads a YAML settings file and overlays it on the
// defaults. It is used only when no runtime config has been persisted yet.
// Unknown keys are rejected.
func LoadRuntimeConfigSeed(path string) (*RuntimeConfig, error) {
	cfg := NewDefaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode settings file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	return cfg, nil
}
