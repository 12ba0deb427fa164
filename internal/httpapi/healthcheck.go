package httpapi

import (
	"net/http"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

// BrokerStatus reports whether the MQTT link is up.
type BrokerStatus interface {
	IsConnected() bool
}

type healthResponse struct {
	Status        string         `json:"status"`
	MQTTConnected bool           `json:"mqtt_connected"`
	Instruments   int            `json:"instruments"`
	Statuses      map[string]int `json:"statuses"`
}

type healthchecker struct {
	store  *store.Store
	health *health.Tracker
	broker BrokerStatus
}

// handleHealthz always answers 200: the collector keeps running without
// MQTT or with every instrument offline.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Instruments: len(h.store.Codes()),
		Statuses: map[string]int{
			string(health.Healthy):  0,
			string(health.Degraded): 0,
			string(health.Offline):  0,
		},
	}
	if h.broker != nil {
		resp.MQTTConnected = h.broker.IsConnected()
	}
	for _, st := range h.health.AllStatuses() {
		resp.Statuses[string(st)]++
	}
	writeJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, deps Deps) {
	h := &healthchecker{store: deps.Store, health: deps.Health, broker: deps.Broker}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
