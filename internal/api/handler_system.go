package api

import (
	"net/http"
	"sync/atomic"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/service"
)

// HandleHealthz returns a handler for GET /healthz. It is served without auth.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info service.SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleSystemConfig returns a handler for GET /api/v1/system/config.
func HandleSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runtimeCfg == nil {
			WriteJSON(w, http.StatusOK, nil)
			return
		}
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// HandleSystemDefaultConfig returns a handler for GET /api/v1/system/config/default.
func HandleSystemDefaultConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, config.NewDefaultRuntimeConfig())
	}
}

// envConfigView is the read-only env snapshot. Secrets are reported only as
// being set or not.
type envConfigView struct {
	CacheDir              string   `json:"cache_dir"`
	StateDir              string   `json:"state_dir"`
	ListenAddress         string   `json:"listen_address"`
	Port                  int      `json:"port"`
	APIMaxBodyBytes       int      `json:"api_max_body_bytes"`
	APIMode               string   `json:"api_mode"`
	League                string   `json:"league"`
	AccountName           string   `json:"account_name"`
	AuthDomain            string   `json:"auth_domain"`
	RefdataUpdateSchedule string   `json:"refdata_update_schedule"`
	StatTranslationURLs   []string `json:"stat_translation_urls"`
	ResourceFetchTimeout  string   `json:"resource_fetch_timeout"`
	RequestTimeout        string   `json:"request_timeout"`
	StrictRateLimitPolicy bool     `json:"strict_rate_limit_policy"`
	SettingsFile          string   `json:"settings_file,omitempty"`
	DebugLog              bool     `json:"debug_log"`
	OAuthTokenSet         bool     `json:"oauth_token_set"`
	SessionIDSet          bool     `json:"session_id_set"`
	AdminTokenSet         bool     `json:"admin_token_set"`
}

func newEnvConfigView(c *config.EnvConfig) envConfigView {
	return envConfigView{
		CacheDir:              c.CacheDir,
		StateDir:              c.StateDir,
		ListenAddress:         c.ListenAddress,
		Port:                  c.CofferPort,
		APIMaxBodyBytes:       c.APIMaxBodyBytes,
		APIMode:               string(c.APIMode),
		League:                c.League,
		AccountName:           c.AccountName,
		AuthDomain:            c.AuthDomain,
		RefdataUpdateSchedule: c.RefdataUpdateSchedule,
		StatTranslationURLs:   append([]string{}, c.StatTranslationURLs...),
		ResourceFetchTimeout:  c.ResourceFetchTimeout.String(),
		RequestTimeout:        c.RequestTimeout.String(),
		StrictRateLimitPolicy: c.StrictRateLimitPolicy,
		SettingsFile:          c.SettingsFile,
		DebugLog:              c.DebugLog,
		OAuthTokenSet:         c.OAuthToken != "" || c.OAuthTokenFile != "",
		SessionIDSet:          c.SessionID != "",
		AdminTokenSet:         c.AdminToken != "",
	}
}

// HandleSystemEnvConfig returns a handler for GET /api/v1/system/config/env.
func HandleSystemEnvConfig(envCfg *config.EnvConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if envCfg == nil {
			WriteJSON(w, http.StatusOK, nil)
			return
		}
		WriteJSON(w, http.StatusOK, newEnvConfigView(envCfg))
	}
}

// HandlePatchSystemConfig returns a handler for PATCH /api/v1/system/config.
func HandlePatchSystemConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		result, err := cp.PatchRuntimeConfig(body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
