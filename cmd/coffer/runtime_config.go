package main

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/state"
)

// loadRuntimeConfig returns the persisted runtime config. On first start it
// seeds one from the settings file (or defaults) and persists it as version 1.
func loadRuntimeConfig(engine *state.StateEngine, settingsFile string) (*config.RuntimeConfig, error) {
	cfg, version, err := engine.GetSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			log.Printf("Warning: persisted runtime config (version %d) invalid, using defaults: %v", version, err)
			return config.NewDefaultRuntimeConfig(), nil
		}
		log.Printf("Runtime config loaded (version %d)", version)
		return cfg, nil
	}

	cfg, err = config.LoadRuntimeConfigSeed(settingsFile)
	if err != nil {
		return nil, err
	}
	if err := engine.SaveSystemConfig(cfg, 1, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("persist seeded runtime config: %w", err)
	}
	if settingsFile != "" {
		log.Printf("Runtime config seeded from %s", settingsFile)
	} else {
		log.Println("Runtime config seeded from defaults")
	}
	return cfg, nil
}

// runtimeConfigSnapshot never returns nil.
func runtimeConfigSnapshot(p *atomic.Pointer[config.RuntimeConfig]) *config.RuntimeConfig {
	if p == nil {
		return config.NewDefaultRuntimeConfig()
	}
	if cfg := p.Load(); cfg != nil {
		return cfg
	}
	return config.NewDefaultRuntimeConfig()
}
