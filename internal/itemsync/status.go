package itemsync

import (
	"time"

	"github.com/Resinat/Coffer/internal/model"
)

// ProgramState is the coarse state reported with every status message.
type ProgramState int

const (
	StateInitializing ProgramState = iota
	StateReady
	StateBusy
)

func (s ProgramState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

func (s ProgramState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Phase is the step of the sync pipeline the worker is in.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseFetchingReferenceData Phase = "fetching_reference_data"
	PhaseParsingCache          Phase = "parsing_cache"
	PhaseEnumerating           Phase = "enumerating"
	PhaseFetchingTabItems      Phase = "fetching_tab_items"
	PhaseAggregating           Phase = "aggregating"
	PhaseDone                  Phase = "done"
	PhaseCancelled             Phase = "cancelled"
	PhaseError                 Phase = "error"
)

// StatusUpdate is one human-readable progress message.
type StatusUpdate struct {
	State   ProgramState `json:"state"`
	Message string       `json:"message"`
}

// Snapshot is a point-in-time copy of the worker's progress.
type Snapshot struct {
	Phase             Phase        `json:"phase"`
	State             ProgramState `json:"state"`
	Message           string       `json:"message"`
	RunID             string       `json:"run_id,omitempty"`
	Selection         string       `json:"selection,omitempty"`
	Initialized       bool         `json:"initialized"`
	Updating          bool         `json:"updating"`
	RequestsNeeded    int          `json:"requests_needed"`
	RequestsCompleted int          `json:"requests_completed"`
	TotalNeeded       int          `json:"total_needed"`
	TotalCompleted    int          `json:"total_completed"`
	Tabs              int          `json:"tabs"`
	Items             int          `json:"items"`
	StartedAt         time.Time    `json:"started_at,omitempty"`
	LastSyncAt        time.Time    `json:"last_sync_at,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
}

// Hooks receive worker events. Every hook runs on the worker's goroutine and
// must not call back into the worker synchronously.
type Hooks struct {
	OnStatus         func(StatusUpdate)
	OnItemsRefreshed func(items []*model.Item, tabs []model.ItemLocation, initial bool)
	// OnSyncFinished reports the terminal phase of one update run.
	OnSyncFinished func(runID string, phase Phase, items, locations int, elapsed time.Duration)
}
