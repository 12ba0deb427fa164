package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
	"observatory-collector/internal/views"
)

type dashboard struct {
	store  *store.Store
	health *health.Tracker
	broker BrokerStatus
	now    func() time.Time
}

func (d *dashboard) data() *views.DashboardData {
	data := &views.DashboardData{Now: d.now()}
	if d.broker != nil {
		data.MQTTConnected = d.broker.IsConnected()
	}
	all := d.store.GetAll()
	for _, code := range d.store.Codes() {
		r, ok := all[code]
		if !ok {
			continue
		}
		data.Instruments = append(data.Instruments, views.InstrumentRow{
			Code:        code,
			Status:      string(d.health.Status(code)),
			FailureRate: d.health.FailureRate(code),
			Updated:     r.Timestamp,
			Fields:      displayFields(r.Fields),
		})
	}
	return data
}

// displayFields lists the set fields of a reading by their JSON names.
func displayFields(f store.Fields) []views.Field {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	out := make([]views.Field, 0, len(values))
	for name, v := range values {
		out = append(out, views.Field{Name: name, Value: displayValue(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func displayValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (d *dashboard) render(w http.ResponseWriter, fn func(*bytes.Buffer, *views.DashboardData) error) {
	var buf bytes.Buffer
	if err := fn(&buf, d.data()); err != nil {
		slog.Error("failed to render dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (d *dashboard) handlePage(w http.ResponseWriter, r *http.Request) {
	d.render(w, func(b *bytes.Buffer, data *views.DashboardData) error {
		return views.RenderDashboard(b, data)
	})
}

func (d *dashboard) handleInstruments(w http.ResponseWriter, r *http.Request) {
	d.render(w, func(b *bytes.Buffer, data *views.DashboardData) error {
		return views.RenderInstrumentsPartial(b, data)
	})
}

func registerDashboard(mux *http.ServeMux, deps Deps) {
	d := &dashboard{store: deps.Store, health: deps.Health, broker: deps.Broker, now: time.Now}
	mux.HandleFunc("GET /{$}", d.handlePage)
	mux.HandleFunc("GET /partials/instruments", d.handleInstruments)
}
