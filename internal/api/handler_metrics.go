package api

import (
	"net/http"

	"github.com/Resinat/Coffer/internal/metrics"
)

// HandlePrometheus returns a handler for GET /metrics.
// No authentication is required.
func HandlePrometheus(m *metrics.Metrics) http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.Handler()
}
