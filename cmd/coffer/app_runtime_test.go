package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/itemsync"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/state"
)

func newTestEnvConfig(root string) *config.EnvConfig {
	return &config.EnvConfig{
		CacheDir:              filepath.Join(root, "cache"),
		StateDir:              filepath.Join(root, "state"),
		ListenAddress:         "127.0.0.1",
		CofferPort:            0,
		APIMaxBodyBytes:       1 << 20,
		APIMode:               config.APIModeOAuth,
		League:                "Standard",
		OAuthToken:            "oauth-test-token",
		AuthDomain:            "pathofexile.com",
		RefdataUpdateSchedule: "0 6 * * *",
		ResourceFetchTimeout:  time.Second,
		RequestTimeout:        time.Second,
		AdminToken:            "test-admin-token",
	}
}

func newTestApp(t *testing.T) *cofferApp {
	t.Helper()
	envCfg := newTestEnvConfig(t.TempDir())
	engine, closer, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		t.Fatalf("PersistenceBootstrap: %v", err)
	}
	app, err := newCofferApp(envCfg, engine)
	if err != nil {
		_ = closer.Close()
		t.Fatalf("newCofferApp: %v", err)
	}
	t.Cleanup(func() {
		app.shutdown(context.Background())
		_ = closer.Close()
	})
	return app
}

func appGet(t *testing.T, app *cofferApp, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer test-admin-token")
	rec := httptest.NewRecorder()
	app.apiSrv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewCofferApp_ServesControlPlane(t *testing.T) {
	app := newTestApp(t)

	rec := appGet(t, app, "/api/v1/sync/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status: got %d, body=%s", rec.Code, rec.Body.String())
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status["phase"] != string(itemsync.PhaseIdle) {
		t.Fatalf("phase: got %v, want idle", status["phase"])
	}

	rec = appGet(t, app, "/api/v1/system/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("system info: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"api_mode":"OAUTH"`) {
		t.Fatalf("system info missing api mode: %s", rec.Body.String())
	}

	rec = appGet(t, app, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "coffer_sync_items") {
		t.Fatalf("metrics: got %d, body=%s", rec.Code, rec.Body.String())
	}
}

func TestNewCofferApp_RejectsUnreadableTokenFile(t *testing.T) {
	envCfg := newTestEnvConfig(t.TempDir())
	envCfg.OAuthToken = ""
	envCfg.OAuthTokenFile = filepath.Join(t.TempDir(), "missing-token")
	engine, closer, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		t.Fatalf("PersistenceBootstrap: %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })

	if _, err := newCofferApp(envCfg, engine); err == nil {
		t.Fatal("expected auth error for missing token file")
	}
}

func TestCofferApp_SyncFinishedRecordsRun(t *testing.T) {
	app := newTestApp(t)

	app.onSyncFinished("run-1", itemsync.PhaseDone, 10, 3, 2*time.Second)
	rec, ok := app.metrics.Runs().Latest()
	if !ok {
		t.Fatal("expected a recorded run")
	}
	if rec.RunID != "run-1" || rec.Outcome != "done" || rec.Items != 10 || rec.Locations != 3 {
		t.Fatalf("unexpected run record: %+v", rec)
	}

	resp := appGet(t, app, "/api/v1/sync/runs")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "run-1") {
		t.Fatalf("sync runs: got %d, body=%s", resp.Code, resp.Body.String())
	}
}

func TestCofferApp_ItemsRefreshedReplacesInventory(t *testing.T) {
	app := newTestApp(t)
	tab := model.NewStashLocation(0, "aaaaaaaaaa", "Loot", "", 0, 0, 0, nil)

	app.onItemsRefreshed(nil, []model.ItemLocation{tab}, true)
	tabs, items := app.inventory.Counts()
	if tabs != 1 || items != 0 {
		t.Fatalf("counts: tabs=%d items=%d", tabs, items)
	}
	if _, ok := app.inventory.Tab("aaaaaaaaaa"); !ok {
		t.Fatal("tab not visible in inventory")
	}
}

func TestCofferApp_ReportFatalDoesNotBlock(t *testing.T) {
	app := newTestApp(t)
	first := errors.New("first")

	app.reportFatal(first)
	app.reportFatal(errors.New("second"))

	select {
	case err := <-app.fatalCh:
		if !errors.Is(err, first) {
			t.Fatalf("fatal: got %v, want first", err)
		}
	default:
		t.Fatal("expected a queued fatal error")
	}
}

func TestCofferApp_RestartRecoversCachedTabs(t *testing.T) {
	envCfg := newTestEnvConfig(t.TempDir())
	tab := model.NewStashLocation(0, "bbbbbbbbbb", "Currency", "CurrencyStash", 1, 2, 3, nil)

	engine1, closer1, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		t.Fatalf("first PersistenceBootstrap: %v", err)
	}
	app1, err := newCofferApp(envCfg, engine1)
	if err != nil {
		t.Fatalf("first newCofferApp: %v", err)
	}
	app1.flushWorker.Start()
	app1.cacheStore.SetTabs(model.LocationStash, []model.ItemLocation{tab})
	app1.shutdown(context.Background())
	if err := closer1.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	engine2, closer2, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		t.Fatalf("second PersistenceBootstrap: %v", err)
	}
	t.Cleanup(func() { _ = closer2.Close() })
	app2, err := newCofferApp(envCfg, engine2)
	if err != nil {
		t.Fatalf("second newCofferApp: %v", err)
	}
	t.Cleanup(func() { app2.shutdown(context.Background()) })

	got := app2.cacheStore.GetTabs(model.LocationStash)
	if len(got) != 1 || got[0].UniqueID() != "bbbbbbbbbb" {
		t.Fatalf("recovered tabs: %+v", got)
	}
	if _, version, _ := engine2.GetSystemConfig(); version != 1 {
		t.Fatalf("runtime config version after restart: got %d, want 1", version)
	}
}
