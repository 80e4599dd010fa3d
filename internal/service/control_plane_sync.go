package service

import (
	"encoding/json"
	"errors"

	"github.com/Resinat/Coffer/internal/itemsync"
	"github.com/Resinat/Coffer/internal/metrics"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

// ------------------------------------------------------------------
// Sync
// ------------------------------------------------------------------

var syncUpdateAllowedFields = map[string]bool{
	"selection": true,
	"tab_uids":  true,
}

// SyncUpdateRequest is the parsed body of the update action.
type SyncUpdateRequest struct {
	Selection model.TabSelection
	TabUIDs   []string
}

// SyncStatus returns the worker's progress snapshot.
func (s *ControlPlaneService) SyncStatus() itemsync.Snapshot {
	return s.Worker.Snapshot()
}

// ParseSyncUpdate validates an update action body. An empty body means
// "checked".
func ParseSyncUpdate(body json.RawMessage) (SyncUpdateRequest, error) {
	req := SyncUpdateRequest{Selection: model.SelectChecked}
	if len(body) == 0 {
		return req, nil
	}
	obj, verr := parseObjectBody(body)
	if verr != nil {
		return req, verr
	}
	if verr := obj.only(syncUpdateAllowedFields, "unknown field"); verr != nil {
		return req, verr
	}

	if raw, ok, verr := obj.stringField("selection"); verr != nil {
		return req, verr
	} else if ok {
		sel, err := model.ParseTabSelection(raw)
		if err != nil {
			return req, invalidArg("selection: must be one of all, checked, selected")
		}
		req.Selection = sel
	}
	uids, ok, verr := obj.stringsField("tab_uids")
	if verr != nil {
		return req, verr
	}
	switch {
	case req.Selection == model.SelectSelected && len(uids) == 0:
		return req, invalidArg("tab_uids: required when selection is selected")
	case req.Selection != model.SelectSelected && ok:
		return req, invalidArg("tab_uids: only allowed when selection is selected")
	}
	req.TabUIDs = uids
	return req, nil
}

// StartSyncUpdate starts an update run and returns the status right after.
func (s *ControlPlaneService) StartSyncUpdate(req SyncUpdateRequest) (itemsync.Snapshot, error) {
	if err := s.Worker.Update(req.Selection, req.TabUIDs); err != nil {
		switch {
		case errors.Is(err, itemsync.ErrUpdateInProgress):
			return itemsync.Snapshot{}, conflict("an update is already in progress")
		case errors.Is(err, itemsync.ErrClosed):
			return itemsync.Snapshot{}, conflict("item worker is stopped")
		}
		return itemsync.Snapshot{}, internal("start update", err)
	}
	return s.Worker.Snapshot(), nil
}

// RecentSyncRuns lists finished runs, newest first.
func (s *ControlPlaneService) RecentSyncRuns(limit int) []metrics.RunRecord {
	if s.Runs == nil {
		return nil
	}
	return s.Runs.Recent(limit)
}

// GetSyncRun looks up one finished run in the recent history.
func (s *ControlPlaneService) GetSyncRun(runID string) (metrics.RunRecord, error) {
	for _, rec := range s.RecentSyncRuns(0) {
		if rec.RunID == runID {
			return rec, nil
		}
	}
	return metrics.RunRecord{}, notFound("sync run not found")
}

// ------------------------------------------------------------------
// Rate limiting
// ------------------------------------------------------------------

// RateLimitStatus is the API response for the scheduler.
type RateLimitStatus struct {
	Pause    ratelimit.Pause           `json:"pause"`
	Policies []ratelimit.ManagerStatus `json:"policies"`
}

// GetRateLimitStatus returns every policy manager and the current pause.
func (s *ControlPlaneService) GetRateLimitStatus() RateLimitStatus {
	policies := s.Limiter.Snapshot()
	if policies == nil {
		policies = []ratelimit.ManagerStatus{}
	}
	return RateLimitStatus{
		Pause:    s.Limiter.CurrentPause(),
		Policies: policies,
	}
}
