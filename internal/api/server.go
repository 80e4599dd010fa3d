package api

import (
	"net/http"
	"sync/atomic"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/metrics"
	"github.com/Resinat/Coffer/internal/service"
)

// Config carries everything the route table needs.
type Config struct {
	AdminToken   string
	SystemInfo   service.SystemInfo
	RuntimeCfg   *atomic.Pointer[config.RuntimeConfig]
	EnvCfg       *config.EnvConfig
	ControlPlane *service.ControlPlaneService // nil leaves only system routes
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
}

// Server is the Coffer HTTP API. Listening is left to the caller.
type Server struct {
	mux *http.ServeMux
}

type route struct {
	pattern string
	handler http.Handler
}

// NewServer builds the route table.
func NewServer(cfg Config) *Server {
	root := http.NewServeMux()
	root.Handle("GET /healthz", HandleHealthz())
	if cfg.Metrics != nil {
		root.Handle("GET /metrics", HandlePrometheus(cfg.Metrics))
	}

	authed := http.NewServeMux()
	for _, r := range systemRoutes(cfg) {
		authed.Handle(r.pattern, r.handler)
	}
	if cp := cfg.ControlPlane; cp != nil {
		for _, r := range controlPlaneRoutes(cp) {
			authed.Handle(r.pattern, r.handler)
		}
	}
	root.Handle("/api/", AuthMiddleware(cfg.AdminToken, RequestBodyLimitMiddleware(cfg.MaxBodyBytes, authed)))

	return &Server{mux: root}
}

func systemRoutes(cfg Config) []route {
	return []route{
		{"GET /api/v1/system/info", HandleSystemInfo(cfg.SystemInfo)},
		{"GET /api/v1/system/config", HandleSystemConfig(cfg.RuntimeCfg)},
		{"GET /api/v1/system/config/default", HandleSystemDefaultConfig()},
		{"GET /api/v1/system/config/env", HandleSystemEnvConfig(cfg.EnvCfg)},
	}
}

func controlPlaneRoutes(cp *service.ControlPlaneService) []route {
	return []route{
		{"PATCH /api/v1/system/config", HandlePatchSystemConfig(cp)},

		{"GET /api/v1/sync/status", HandleSyncStatus(cp)},
		{"POST /api/v1/sync/actions/update", HandleSyncUpdate(cp)},
		{"GET /api/v1/sync/runs", HandleListSyncRuns(cp)},
		{"GET /api/v1/sync/runs/{run_id}", HandleGetSyncRun(cp)},

		{"GET /api/v1/ratelimit/status", HandleRateLimitStatus(cp)},

		{"GET /api/v1/tabs", HandleListTabs(cp)},
		{"GET /api/v1/tabs/{uid}/items", HandleListTabItems(cp)},
		{"PUT /api/v1/tabs/{uid}/refresh-checked", HandleSetRefreshChecked(cp)},
		{"GET /api/v1/items", HandleListItems(cp)},

		{"GET /api/v1/refdata/status", HandleRefDataStatus(cp)},
		{"POST /api/v1/refdata/actions/update-now", HandleRefDataUpdate(cp)},
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
