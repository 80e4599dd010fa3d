package service

import (
	"sync"
	"sync/atomic"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/inventory"
	"github.com/Resinat/Coffer/internal/itemsync"
	"github.com/Resinat/Coffer/internal/metrics"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
	"github.com/Resinat/Coffer/internal/refdata"
	"github.com/Resinat/Coffer/internal/state"
)

// SyncWorker is the part of the item worker the control plane drives.
type SyncWorker interface {
	Snapshot() itemsync.Snapshot
	Update(selection model.TabSelection, uids []string) error
}

type RateLimiter interface {
	Snapshot() []ratelimit.ManagerStatus
	CurrentPause() ratelimit.Pause
}

type RefData interface {
	Status() refdata.Status
	UpdateNow() error
}

// ControlPlaneService implements every control plane operation. Handlers
// decode requests and encode results; validation and persistence live here.
type ControlPlaneService struct {
	Engine     *state.StateEngine
	Worker     SyncWorker
	Limiter    RateLimiter
	RefData    RefData
	Inventory  *inventory.Snapshot
	Runs       *metrics.RunRing
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	EnvCfg     *config.EnvConfig

	configMu      sync.Mutex
	configVersion int // 0 until first read from state.db
}
