package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Resinat/Coffer/internal/api"
	"github.com/Resinat/Coffer/internal/auth"
	"github.com/Resinat/Coffer/internal/buildinfo"
	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/inventory"
	"github.com/Resinat/Coffer/internal/itemsync"
	"github.com/Resinat/Coffer/internal/metrics"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/netutil"
	"github.com/Resinat/Coffer/internal/ratelimit"
	"github.com/Resinat/Coffer/internal/refdata"
	"github.com/Resinat/Coffer/internal/service"
	"github.com/Resinat/Coffer/internal/state"
)

const (
	flushCheckTick  = 5 * time.Second
	runHistorySize  = 100
	shutdownTimeout = 5 * time.Second
)

type cofferApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	authz       auth.Authorizer
	metrics     *metrics.Metrics
	limiter     *ratelimit.Limiter
	refdataSvc  *refdata.Service
	cacheStore  *state.CacheStore
	flushWorker *state.CacheFlushWorker
	inventory   *inventory.Snapshot
	worker      *itemsync.Worker
	autoUpdater *itemsync.AutoUpdater
	apiSrv      *api.Server

	fatalCh   chan error
	serverSrv *http.Server
	serverLn  net.Listener
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	for _, w := range envCfg.TokenWarnings() {
		log.Printf("Warning: %s", w)
	}
	ratelimit.SetDebugLog(envCfg.DebugLog)

	engine, dbCloser, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		return fmt.Errorf("persistence bootstrap: %w", err)
	}
	log.Println("Persistence bootstrap complete")

	app, err := newCofferApp(envCfg, engine)
	if err != nil {
		_ = dbCloser.Close()
		return err
	}

	if err := app.startBackgroundServices(); err != nil {
		app.shutdown(context.Background())
		_ = dbCloser.Close()
		return err
	}
	serverErrCh, err := app.startServer()
	if err != nil {
		app.shutdown(context.Background())
		_ = dbCloser.Close()
		return err
	}
	runtimeErr := waitForShutdown(serverErrCh, app.fatalCh)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(ctx)

	if err := dbCloser.Close(); err != nil {
		log.Printf("Persistence close error: %v", err)
	}
	if runtimeErr != nil {
		return fmt.Errorf("runtime error: %w", runtimeErr)
	}
	return nil
}

func newCofferApp(envCfg *config.EnvConfig, engine *state.StateEngine) (*cofferApp, error) {
	app := &cofferApp{
		envCfg:     envCfg,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
		fatalCh:    make(chan error, 1),
	}
	runtimeCfg, err := loadRuntimeConfig(engine, envCfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	app.runtimeCfg.Store(runtimeCfg)

	app.authz, err = auth.FromConfig(envCfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	app.metrics = metrics.New(runHistorySize)
	app.initLimiter()
	app.initRefData()
	if err := app.initPersistence(engine); err != nil {
		return nil, err
	}
	app.initWorker(engine)
	app.buildAPIServer(engine)
	return app, nil
}

func (a *cofferApp) initLimiter() {
	a.limiter = ratelimit.New(ratelimit.Options{
		Doer:       &http.Client{Timeout: a.envCfg.RequestTimeout},
		Authorizer: a.authz,
		Observer:   a.metrics,
		UserAgent: func() string {
			return runtimeConfigSnapshot(a.runtimeCfg).UserAgent
		},
		Strict:  a.envCfg.StrictRateLimitPolicy,
		OnFatal: a.reportFatal,
	})
	log.Printf("Rate limiter initialized (strict=%t)", a.envCfg.StrictRateLimitPolicy)
}

func (a *cofferApp) initRefData() {
	direct := netutil.NewHTTPDownloader(
		func() time.Duration { return a.envCfg.ResourceFetchTimeout },
		func() string { return runtimeConfigSnapshot(a.runtimeCfg).UserAgent },
	)
	a.refdataSvc = refdata.NewService(refdata.ServiceConfig{
		CacheDir:            a.envCfg.CacheDir,
		UpdateSchedule:      a.envCfg.RefdataUpdateSchedule,
		StatTranslationURLs: a.envCfg.StatTranslationURLs,
		Downloader:          &netutil.RetryDownloader{Inner: direct},
	})
	log.Println("Reference data service initialized")
}

func (a *cofferApp) initPersistence(engine *state.StateEngine) error {
	store, err := state.NewCacheStore(engine)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	a.cacheStore = store
	a.flushWorker = state.NewCacheFlushWorker(engine, store.Readers(), state.FlushPolicy{
		Threshold: func() int { return runtimeConfigSnapshot(a.runtimeCfg).CacheFlushDirtyThreshold },
		MaxDelay:  func() time.Duration { return runtimeConfigSnapshot(a.runtimeCfg).CacheFlushInterval.Std() },
		Tick:      flushCheckTick,
	})
	return nil
}

func (a *cofferApp) initWorker(engine *state.StateEngine) {
	// The legacy main page is a plain page fetch that still needs the
	// session cookie.
	mainPage := netutil.NewHTTPDownloader(
		func() time.Duration { return a.envCfg.RequestTimeout },
		func() string { return runtimeConfigSnapshot(a.runtimeCfg).UserAgent },
	)
	mainPage.Client.Transport = &auth.Transport{Authorizer: a.authz}

	a.inventory = inventory.New()
	a.worker = itemsync.New(itemsync.Options{
		Mode:       a.envCfg.APIMode,
		League:     a.envCfg.League,
		Account:    a.envCfg.AccountName,
		Limiter:    a.limiter,
		Downloader: mainPage,
		Datastore:  a.cacheStore,
		Marks:      engine,
		RefData:    a.refdataSvc,
		Classifier: a.refdataSvc.Store(),
		ParseConcurrency: func() int {
			return runtimeConfigSnapshot(a.runtimeCfg).ItemParseConcurrency
		},
		PreserveSelectedCharacter: func() bool {
			return runtimeConfigSnapshot(a.runtimeCfg).PreserveSelectedCharacter
		},
		Hooks: itemsync.Hooks{
			OnStatus:         a.onSyncStatus,
			OnItemsRefreshed: a.onItemsRefreshed,
			OnSyncFinished:   a.onSyncFinished,
		},
	})
	a.autoUpdater = itemsync.NewAutoUpdater(
		a.worker,
		func() bool { return runtimeConfigSnapshot(a.runtimeCfg).AutoUpdateEnabled },
		func() time.Duration { return runtimeConfigSnapshot(a.runtimeCfg).AutoUpdateInterval.Std() },
	)
	log.Printf("Item worker initialized (mode=%s, league=%s)", a.envCfg.APIMode, a.envCfg.League)
}

func (a *cofferApp) onSyncStatus(u itemsync.StatusUpdate) {
	log.Printf("[sync] %s: %s", u.State, u.Message)
}

func (a *cofferApp) onItemsRefreshed(items []*model.Item, tabs []model.ItemLocation, initial bool) {
	a.inventory.Replace(items, tabs, time.Now())
	if !initial {
		// Persist the finished run without waiting for the dirty threshold.
		a.flushWorker.RequestFlush()
	}
}

func (a *cofferApp) onSyncFinished(runID string, phase itemsync.Phase, items, locations int, elapsed time.Duration) {
	a.metrics.SyncFinished(runID, string(phase), items, locations, elapsed)
}

func (a *cofferApp) reportFatal(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
}

func (a *cofferApp) buildAPIServer(engine *state.StateEngine) {
	systemInfo := service.SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: time.Now().UTC(),
		APIMode:   string(a.envCfg.APIMode),
		League:    a.envCfg.League,
	}
	cpService := &service.ControlPlaneService{
		Engine:     engine,
		Worker:     a.worker,
		Limiter:    a.limiter,
		RefData:    a.refdataSvc,
		Inventory:  a.inventory,
		Runs:       a.metrics.Runs(),
		RuntimeCfg: a.runtimeCfg,
		EnvCfg:     a.envCfg,
	}
	a.apiSrv = api.NewServer(api.Config{
		AdminToken:   a.envCfg.AdminToken,
		SystemInfo:   systemInfo,
		RuntimeCfg:   a.runtimeCfg,
		EnvCfg:       a.envCfg,
		ControlPlane: cpService,
		MaxBodyBytes: int64(a.envCfg.APIMaxBodyBytes),
		Metrics:      a.metrics,
	})
}

func (a *cofferApp) startBackgroundServices() error {
	a.flushWorker.Start()
	log.Println("Cache flush worker started")

	if err := a.refdataSvc.Start(); err != nil {
		return fmt.Errorf("refdata start: %w", err)
	}
	log.Println("Reference data service started")

	a.worker.Start()
	if err := a.worker.Init(); err != nil {
		return fmt.Errorf("item worker init: %w", err)
	}
	log.Println("Item worker started")

	a.autoUpdater.Start()
	log.Println("Auto updater started")
	return nil
}

func (a *cofferApp) startServer() (<-chan error, error) {
	ln, err := net.Listen("tcp", formatListenAddress(a.envCfg.ListenAddress, a.envCfg.CofferPort))
	if err != nil {
		return nil, fmt.Errorf("coffer server listen: %w", err)
	}
	a.serverLn = ln
	a.serverSrv = &http.Server{Handler: a.apiSrv.Handler()}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("Coffer server starting on %s", formatListenURL(a.envCfg.ListenAddress, a.envCfg.CofferPort))
		err := a.serverSrv.Serve(a.serverLn)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		select {
		case serverErrCh <- fmt.Errorf("coffer server: %w", err):
		default:
		}
	}()
	return serverErrCh, nil
}

func waitForShutdown(serverErrCh <-chan error, fatalCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	case err := <-fatalCh:
		log.Printf("Received fatal rate limit error (%v), shutting down...", err)
		return err
	}
}

func formatListenAddress(listenAddress string, port int) string {
	return net.JoinHostPort(listenAddress, strconv.Itoa(port))
}

func formatListenURL(listenAddress string, port int) string {
	return "http://" + formatListenAddress(listenAddress, port)
}

func (a *cofferApp) shutdown(ctx context.Context) {
	if a.serverSrv != nil {
		if err := a.serverSrv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		log.Println("Coffer server stopped")
	}

	// Event sources first, then the limiter they submit to, then persistence.
	a.autoUpdater.Stop()
	log.Println("Auto updater stopped")

	a.worker.Stop()
	log.Println("Item worker stopped")

	a.limiter.Close()
	log.Println("Rate limiter closed")

	a.refdataSvc.Stop()
	log.Println("Reference data service stopped")

	a.flushWorker.Stop() // final cache flush before DB close
	log.Println("Server stopped")
}
