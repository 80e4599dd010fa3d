package api

import (
	"net/http"

	"github.com/Resinat/Coffer/internal/service"
)

// HandleRefDataStatus returns a handler for GET /api/v1/refdata/status.
func HandleRefDataStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.GetRefDataStatus())
	}
}

// HandleRefDataUpdate returns a handler for POST /api/v1/refdata/actions/update-now.
// It blocks until the download finishes.
func HandleRefDataUpdate(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := cp.UpdateRefDataNow()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}
