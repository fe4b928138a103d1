package server

import (
	"net/http"

	registry "github.com/hanpama/fedgateway/internal/registry"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// Registry is the view of the service registry the admin endpoints need.
// *registry.Registry implements it.
type Registry interface {
	CurrentSchema() *schema.Schema
	Status() []registry.ServiceStatus
}

// Health is the body of the health endpoint.
type Health struct {
	// Status is "ok", "degraded" when a service is unreachable, or
	// "unavailable" before the first composition.
	Status   string                   `json:"status"`
	Services []registry.ServiceStatus `json:"services"`
}

// NewAdmin serves GET /schema, the composed SDL with federation
// directives, and GET /healthz.
func NewAdmin(reg Registry, pretty bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schema", func(w http.ResponseWriter, r *http.Request) {
		sch := reg.CurrentSchema()
		if sch == nil {
			http.Error(w, "no schema composed yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(schema.Render(sch, schema.WithFederation())))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: "ok", Services: reg.Status()}
		status := http.StatusOK
		for _, s := range h.Services {
			if s.Health == registry.HealthUnreachable {
				h.Status = "degraded"
			}
		}
		if reg.CurrentSchema() == nil {
			h.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h, pretty)
	})
	return mux
}
