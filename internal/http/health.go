package httpserver

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB               Pinger
	ReferenceVersion string
	ReferenceHash    string
}

type healthResponse struct {
	Status           string `json:"status"`
	DB               string `json:"db"`
	ReferenceVersion string `json:"reference_version"`
	ReferenceHash    string `json:"reference_version_hash"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		DB:               "ok",
		ReferenceVersion: h.ReferenceVersion,
		ReferenceHash:    h.ReferenceHash,
	})
}
