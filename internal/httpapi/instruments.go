package httpapi

import (
	"net/http"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

type instrumentView struct {
	Code string `json:"code"`
	store.Reading
	Health health.Report `json:"health"`
}

type instrumentsAPI struct {
	store  *store.Store
	health *health.Tracker
}

func (a *instrumentsAPI) view(code string, r store.Reading) instrumentView {
	return instrumentView{
		Code:    code,
		Reading: r,
		Health:  a.health.Report(code),
	}
}

func (a *instrumentsAPI) handleList(w http.ResponseWriter, r *http.Request) {
	all := a.store.GetAll()
	items := make([]instrumentView, 0, len(all))
	for _, code := range a.store.Codes() {
		reading, ok := all[code]
		if !ok {
			continue
		}
		items = append(items, a.view(code, reading))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *instrumentsAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	reading := a.store.Get(code)
	if reading.Timestamp.IsZero() {
		writeError(w, http.StatusNotFound, "unknown instrument "+code)
		return
	}
	writeJSON(w, http.StatusOK, a.view(code, reading))
}

// handleCombined serves the legacy single-instrument view.
func (a *instrumentsAPI) handleCombined(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetCombined())
}

func registerInstruments(mux *http.ServeMux, deps Deps) {
	api := &instrumentsAPI{store: deps.Store, health: deps.Health}
	mux.HandleFunc("GET /api/instruments", api.handleList)
	mux.HandleFunc("GET /api/instruments/{code}", api.handleGet)
	mux.HandleFunc("GET /api/combined", api.handleCombined)
}
