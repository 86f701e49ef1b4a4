// internal/api/api.go
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"academic-records/internal/metrics"
)

// Health reports component liveness for the operational endpoint.
type Health interface {
	Healthy() error
}

// API is the operational surface only: health and metrics. The public
// command/query API lives outside this core.
type API struct {
	checks map[string]Health
}

func New(checks map[string]Health) *API {
	return &API{checks: checks}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{}
	for name, c := range a.checks {
		if err := c.Healthy(); err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
