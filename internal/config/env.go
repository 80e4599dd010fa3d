// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// APIMode selects which game web API flavour is used for synchronization.
type APIMode string

const (
	APIModeOAuth  APIMode = "OAUTH"
	APIModeLegacy APIMode = "LEGACY"
)

// IsValid reports whether m is a known API mode.
func (m APIMode) IsValid() bool {
	return m == APIModeOAuth || m == APIModeLegacy
}

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	CacheDir string
	StateDir string

	// Network
	ListenAddress string

	// Ports
	CofferPort      int
	APIMaxBodyBytes int

	// Game account
	APIMode        APIMode
	League         string
	AccountName    string
	OAuthTokenFile string
	OAuthToken     string
	SessionID      string
	AuthDomain     string

	// Core
	RefdataUpdateSchedule string
	StatTranslationURLs   []string
	ResourceFetchTimeout  time.Duration
	RequestTimeout        time.Duration
	StrictRateLimitPolicy bool
	SettingsFile          string
	DebugLog              bool

	// Auth
	AdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.CacheDir = envStr("COFFER_CACHE_DIR", "/var/cache/coffer")
	cfg.StateDir = envStr("COFFER_STATE_DIR", "/var/lib/coffer")
	cfg.ListenAddress = strings.TrimSpace(envStr("COFFER_LISTEN_ADDRESS", "127.0.0.1"))

	// --- Ports ---
	cfg.CofferPort = envInt("COFFER_PORT", 2261, &errs)
	cfg.APIMaxBodyBytes = envInt("COFFER_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Game account ---
	cfg.APIMode = APIMode(strings.ToUpper(strings.TrimSpace(envStr("COFFER_API_MODE", string(APIModeOAuth)))))
	cfg.League = strings.TrimSpace(envStr("COFFER_LEAGUE", "Standard"))
	cfg.AccountName = strings.TrimSpace(envStr("COFFER_ACCOUNT", ""))
	cfg.OAuthTokenFile = strings.TrimSpace(envStr("COFFER_OAUTH_TOKEN_FILE", ""))
	cfg.OAuthToken = strings.TrimSpace(envStr("COFFER_OAUTH_TOKEN", ""))
	cfg.SessionID = strings.TrimSpace(envStr("COFFER_SESSION_ID", ""))
	cfg.AuthDomain = strings.ToLower(strings.TrimSpace(envStr("COFFER_AUTH_DOMAIN", "pathofexile.com")))

	// --- Core ---
	cfg.RefdataUpdateSchedule = envStr("COFFER_REFDATA_UPDATE_SCHEDULE", "0 6 * * *")
	cfg.StatTranslationURLs = envStringSlice("COFFER_STAT_TRANSLATION_URLS", []string{}, &errs)
	cfg.ResourceFetchTimeout = envDuration("COFFER_RESOURCE_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.RequestTimeout = envDuration("COFFER_REQUEST_TIMEOUT", 60*time.Second, &errs)
	cfg.StrictRateLimitPolicy = envBool("COFFER_STRICT_RATE_LIMIT_POLICY", false, &errs)
	cfg.SettingsFile = strings.TrimSpace(envStr("COFFER_SETTINGS_FILE", ""))
	cfg.DebugLog = envBool("COFFER_DEBUG_LOG", false, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("COFFER_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "COFFER_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "COFFER_LISTEN_ADDRESS must not be empty")
	}

	validatePort("COFFER_PORT", cfg.CofferPort, &errs)
	validatePositive("COFFER_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if !cfg.APIMode.IsValid() {
		errs = append(errs, fmt.Sprintf(
			"COFFER_API_MODE: invalid value %q (allowed: %s, %s)",
			cfg.APIMode, APIModeOAuth, APIModeLegacy,
		))
	}
	if cfg.League == "" {
		errs = append(errs, "COFFER_LEAGUE must not be empty")
	}
	switch cfg.APIMode {
	case APIModeOAuth:
		if cfg.OAuthTokenFile == "" && cfg.OAuthToken == "" {
			errs = append(errs, "COFFER_OAUTH_TOKEN or COFFER_OAUTH_TOKEN_FILE is required when COFFER_API_MODE is OAUTH")
		}
		if cfg.OAuthTokenFile != "" && cfg.OAuthToken != "" {
			errs = append(errs, "COFFER_OAUTH_TOKEN and COFFER_OAUTH_TOKEN_FILE are mutually exclusive")
		}
	case APIModeLegacy:
		if cfg.AccountName == "" {
			errs = append(errs, "COFFER_ACCOUNT is required when COFFER_API_MODE is LEGACY")
		}
		if cfg.SessionID == "" {
			errs = append(errs, "COFFER_SESSION_ID is required when COFFER_API_MODE is LEGACY")
		}
	}
	if cfg.AuthDomain == "" {
		errs = append(errs, "COFFER_AUTH_DOMAIN must not be empty")
	}

	if _, err := cron.ParseStandard(cfg.RefdataUpdateSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("COFFER_REFDATA_UPDATE_SCHEDULE: invalid cron expression %q: %v", cfg.RefdataUpdateSchedule, err))
	}
	for _, raw := range cfg.StatTranslationURLs {
		if !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
			errs = append(errs, fmt.Sprintf("COFFER_STAT_TRANSLATION_URLS: invalid url %q", raw))
		}
	}
	if cfg.ResourceFetchTimeout <= 0 {
		errs = append(errs, "COFFER_RESOURCE_FETCH_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, "COFFER_REQUEST_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := parseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
