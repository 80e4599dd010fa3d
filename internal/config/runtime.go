package config

import (
	"fmt"
	"time"
)

// RuntimeConfig holds all hot-updatable global settings.
// These are persisted in the database and served via GET /system/config.
type RuntimeConfig struct {
	// Basic
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Auto update
	AutoUpdateEnabled  bool     `json:"auto_update_enabled" yaml:"auto_update_enabled"`
	AutoUpdateInterval Duration `json:"auto_update_interval" yaml:"auto_update_interval"`

	// Sync
	PreserveSelectedCharacter bool `json:"preserve_selected_character" yaml:"preserve_selected_character"`
	ItemParseConcurrency      int  `json:"item_parse_concurrency" yaml:"item_parse_concurrency"`

	// Persistence
	CacheFlushInterval       Duration `json:"cache_flush_interval" yaml:"cache_flush_interval"`
	CacheFlushDirtyThreshold int      `json:"cache_flush_dirty_threshold" yaml:"cache_flush_dirty_threshold"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with default values.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		UserAgent: "OAuth coffer/0.1.0 (contact: coffer@localhost)",

		AutoUpdateEnabled:  false,
		AutoUpdateInterval: Duration(30 * time.Minute),

		PreserveSelectedCharacter: true,
		ItemParseConcurrency:      4,

		CacheFlushInterval:       Duration(1 * time.Minute),
		CacheFlushDirtyThreshold: 500,
	}
}

// Validate checks value ranges that JSON decoding alone cannot express.
func (c *RuntimeConfig) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent: must not be empty")
	}
	if c.AutoUpdateInterval.Std() < time.Minute {
		return fmt.Errorf("auto_update_interval: must be at least 1m")
	}
	if c.ItemParseConcurrency <= 0 {
		return fmt.Errorf("item_parse_concurrency: must be positive")
	}
	if c.CacheFlushInterval.Std() <= 0 {
		return fmt.Errorf("cache_flush_interval: must be positive")
	}
	if c.CacheFlushDirtyThreshold <= 0 {
		return fmt.Errorf("cache_flush_dirty_threshold: must be positive")
	}
	return nil
}
