// Package httpapi serves the collector's local read-only HTTP API and status
// page. Templates must be loaded with views.LoadTemplates before serving.
package httpapi

import (
	"net/http"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

// Deps are the components the API reads from. Broker and Metrics may be nil.
type Deps struct {
	Store   *store.Store
	Health  *health.Tracker
	Broker  BrokerStatus
	Metrics http.Handler
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps)
	registerInstruments(mux, deps)
	registerDashboard(mux, deps)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}
