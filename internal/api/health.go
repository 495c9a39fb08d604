package api

import (
	"net/http"
)

const version = "1.0.0"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthHandler reports degraded while the ingest queue is saturated.
func HealthHandler(queue Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "healthy",
			Version: version,
		}
		if queue != nil && queue.Cap() > 0 && queue.Len() >= queue.Cap() {
			resp.Status = "degraded"
		}

		respondJSON(w, http.StatusOK, resp)
	}
}
