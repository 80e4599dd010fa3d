package service

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Resinat/Coffer/internal/config"
)

// patchableConfigFields are the RuntimeConfig JSON keys a PATCH may set.
var patchableConfigFields = map[string]bool{
	"user_agent":                  true,
	"auto_update_enabled":         true,
	"auto_update_interval":        true,
	"preserve_selected_character": true,
	"item_parse_concurrency":      true,
	"cache_flush_interval":        true,
	"cache_flush_dirty_threshold": true,
}

// applyConfigPatch overlays patch onto cfg. The patch is a non-empty object
// of known keys with non-null values; this is not RFC 7396 merge patch.
func applyConfigPatch(cfg *config.RuntimeConfig, patch []byte) *ServiceError {
	obj, verr := parseObjectBody(patch)
	if verr != nil {
		return verr
	}
	if verr := obj.only(patchableConfigFields, "unknown or read-only field"); verr != nil {
		return verr
	}
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return invalidArg("validation failed: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return invalidArg(err.Error())
	}
	return nil
}

// GetRuntimeConfig returns the live runtime config.
func (s *ControlPlaneService) GetRuntimeConfig() *config.RuntimeConfig {
	return s.RuntimeCfg.Load()
}

// nextConfigVersion continues from the persisted version so versions keep
// increasing across restarts. Callers hold configMu.
func (s *ControlPlaneService) nextConfigVersion() (int, error) {
	if s.configVersion == 0 {
		_, v, err := s.Engine.GetSystemConfig()
		if err != nil {
			return 0, err
		}
		s.configVersion = v
	}
	return s.configVersion + 1, nil
}

// PatchRuntimeConfig validates patch against a copy of the live config,
// persists the result and only then publishes it. Any failure leaves both
// the live and stored config untouched.
func (s *ControlPlaneService) PatchRuntimeConfig(patch json.RawMessage) (*config.RuntimeConfig, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	next := config.NewDefaultRuntimeConfig()
	if cur := s.RuntimeCfg.Load(); cur != nil {
		*next = *cur
	}
	if verr := applyConfigPatch(next, patch); verr != nil {
		return nil, verr
	}

	version, err := s.nextConfigVersion()
	if err != nil {
		return nil, internal("load persisted config version", err)
	}
	if err := s.Engine.SaveSystemConfig(next, version, time.Now().UnixNano()); err != nil {
		return nil, internal("persist config", err)
	}
	s.configVersion = version
	s.RuntimeCfg.Store(next)
	return next, nil
}
