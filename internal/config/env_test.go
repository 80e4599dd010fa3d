package config

import (
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// requiredEnvs returns the minimum env vars needed for LoadEnvConfig to succeed.
func requiredEnvs() map[string]string {
	return map[string]string{
		"COFFER_ADMIN_TOKEN": "admin-secret",
		"COFFER_OAUTH_TOKEN": "4f7c1d0e9b2a",
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	setEnvs(t, requiredEnvs())

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directories
	assertEqual(t, "CacheDir", cfg.CacheDir, "/var/cache/coffer")
	assertEqual(t, "StateDir", cfg.StateDir, "/var/lib/coffer")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "127.0.0.1")

	// Ports
	assertEqual(t, "CofferPort", cfg.CofferPort, 2261)
	assertEqual(t, "APIMaxBodyBytes", cfg.APIMaxBodyBytes, 1<<20)

	// Game account
	assertEqual(t, "APIMode", cfg.APIMode, APIModeOAuth)
	assertEqual(t, "League", cfg.League, "Standard")
	assertEqual(t, "AuthDomain", cfg.AuthDomain, "pathofexile.com")

	// Core
	assertEqual(t, "RefdataUpdateSchedule", cfg.RefdataUpdateSchedule, "0 6 * * *")
	assertEqual(t, "StatTranslationURLsLength", len(cfg.StatTranslationURLs), 0)
	assertEqual(t, "ResourceFetchTimeout", cfg.ResourceFetchTimeout, 30*time.Second)
	assertEqual(t, "RequestTimeout", cfg.RequestTimeout, 60*time.Second)
	assertEqual(t, "StrictRateLimitPolicy", cfg.StrictRateLimitPolicy, false)
	assertEqual(t, "DebugLog", cfg.DebugLog, false)
}

func TestLoadEnvConfig_EnvOverrides(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_CACHE_DIR"] = "/tmp/cache"
	envs["COFFER_LISTEN_ADDRESS"] = "0.0.0.0"
	envs["COFFER_PORT"] = "8080"
	envs["COFFER_LEAGUE"] = "Settlers"
	envs["COFFER_REFDATA_UPDATE_SCHEDULE"] = "0 0 * * *"
	envs["COFFER_STAT_TRANSLATION_URLS"] = `["https://example.com/a.json"]`
	envs["COFFER_RESOURCE_FETCH_TIMEOUT"] = "45s"
	envs["COFFER_STRICT_RATE_LIMIT_POLICY"] = "true"
	envs["COFFER_SETTINGS_FILE"] = "/etc/coffer/settings.yaml"
	setEnvs(t, envs)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "CacheDir", cfg.CacheDir, "/tmp/cache")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "0.0.0.0")
	assertEqual(t, "CofferPort", cfg.CofferPort, 8080)
	assertEqual(t, "League", cfg.League, "Settlers")
	assertEqual(t, "RefdataUpdateSchedule", cfg.RefdataUpdateSchedule, "0 0 * * *")
	assertEqual(t, "StatTranslationURLsLength", len(cfg.StatTranslationURLs), 1)
	assertEqual(t, "ResourceFetchTimeout", cfg.ResourceFetchTimeout, 45*time.Second)
	assertEqual(t, "StrictRateLimitPolicy", cfg.StrictRateLimitPolicy, true)
	assertEqual(t, "SettingsFile", cfg.SettingsFile, "/etc/coffer/settings.yaml")
}

func TestLoadEnvConfig_LegacyMode(t *testing.T) {
	setEnvs(t, map[string]string{
		"COFFER_ADMIN_TOKEN": "",
		"COFFER_API_MODE":    "legacy",
		"COFFER_ACCOUNT":     "someone",
		"COFFER_SESSION_ID":  "0123456789abcdef",
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "APIMode", cfg.APIMode, APIModeLegacy)
	assertEqual(t, "AccountName", cfg.AccountName, "someone")
}

func TestLoadEnvConfig_LegacyModeRequiresCredentials(t *testing.T) {
	setEnvs(t, map[string]string{
		"COFFER_ADMIN_TOKEN": "",
		"COFFER_API_MODE":    "LEGACY",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_ACCOUNT")
	assertContains(t, err.Error(), "COFFER_SESSION_ID")
}

func TestLoadEnvConfig_MissingAdminToken(t *testing.T) {
	setEnvs(t, map[string]string{"COFFER_OAUTH_TOKEN": "x"})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for missing COFFER_ADMIN_TOKEN")
	}
	assertContains(t, err.Error(), "COFFER_ADMIN_TOKEN")
}

func TestLoadEnvConfig_OAuthRequiresToken(t *testing.T) {
	setEnvs(t, map[string]string{"COFFER_ADMIN_TOKEN": ""})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_OAUTH_TOKEN or COFFER_OAUTH_TOKEN_FILE")
}

func TestLoadEnvConfig_OAuthTokenSourcesExclusive(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_OAUTH_TOKEN_FILE"] = "/run/secrets/token"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "mutually exclusive")
}

func TestLoadEnvConfig_InvalidAPIMode(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_API_MODE"] = "SOAP"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_API_MODE")
}

func TestLoadEnvConfig_EmptyListenAddress(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_LISTEN_ADDRESS"] = "  "
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_LISTEN_ADDRESS")
}

func TestLoadEnvConfig_InvalidPort(t *testing.T) {
	for _, port := range []string{"0", "70000", "abc"} {
		t.Run(port, func(t *testing.T) {
			envs := requiredEnvs()
			envs["COFFER_PORT"] = port
			setEnvs(t, envs)

			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			assertContains(t, err.Error(), "COFFER_PORT")
		})
	}
}

func TestLoadEnvConfig_InvalidDuration(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_RESOURCE_FETCH_TIMEOUT"] = "not-a-duration"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "invalid duration")
}

func TestLoadEnvConfig_InvalidBool(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_STRICT_RATE_LIMIT_POLICY"] = "maybe"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "invalid boolean")
}

func TestLoadEnvConfig_InvalidRefdataSchedule(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_REFDATA_UPDATE_SCHEDULE"] = "every day"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_REFDATA_UPDATE_SCHEDULE")
}

func TestLoadEnvConfig_InvalidStatTranslationURLs(t *testing.T) {
	envs := requiredEnvs()
	envs["COFFER_STAT_TRANSLATION_URLS"] = `["ftp://example.com/x.json"]`
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "COFFER_STAT_TRANSLATION_URLS")
}

func TestLoadEnvConfig_CollectsAllErrors(t *testing.T) {
	setEnvs(t, map[string]string{
		"COFFER_PORT":                   "0",
		"COFFER_RESOURCE_FETCH_TIMEOUT": "-1s",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	assertContains(t, msg, "COFFER_ADMIN_TOKEN")
	assertContains(t, msg, "COFFER_PORT")
	assertContains(t, msg, "COFFER_RESOURCE_FETCH_TIMEOUT")
	if !strings.HasPrefix(msg, "config validation failed:") {
		t.Fatalf("unexpected error prefix: %q", msg)
	}
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
