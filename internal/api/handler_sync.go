package api

import (
	"net/http"

	"github.com/Resinat/Coffer/internal/service"
)

// HandleSyncStatus returns a handler for GET /api/v1/sync/status.
func HandleSyncStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.SyncStatus())
	}
}

// HandleSyncUpdate returns a handler for POST /api/v1/sync/actions/update.
// An empty body refreshes the checked tabs.
func HandleSyncUpdate(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		req, err := service.ParseSyncUpdate(body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		status, err := cp.StartSyncUpdate(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, status)
	}
}

// HandleListSyncRuns returns a handler for GET /api/v1/sync/runs.
func HandleListSyncRuns(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newQueryReader(r)
		p := q.list(nil)
		if q.err != nil {
			writeInvalidArgument(w, q.err.Error())
			return
		}
		writePage(w, cp.RecentSyncRuns(0), p)
	}
}

// HandleGetSyncRun returns a handler for GET /api/v1/sync/runs/{run_id}.
func HandleGetSyncRun(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := uuidPathValue(w, r, "run_id")
		if !ok {
			return
		}
		rec, err := cp.GetSyncRun(runID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

// HandleRateLimitStatus returns a handler for GET /api/v1/ratelimit/status.
func HandleRateLimitStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.GetRateLimitStatus())
	}
}
