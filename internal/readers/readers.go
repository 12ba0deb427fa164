// Package readers polls network-attached instruments and feeds their readings
// into the shared store and health tracker.
//
// Every device runs in its own goroutine. A cycle either publishes at least
// one recognized field (a success) or records a failure; I/O errors never
// leave the reader.
package readers

import (
	"log/slog"
	"time"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

// Device kinds, also used as instrument code prefixes.
const (
	KindSQM          = "sqm"
	KindWeatherLink  = "davis"
	KindCloudwatcher = "cw"
)

// PollObserver is notified after every poll cycle.
type PollObserver interface {
	ObservePoll(kind string, ok bool, elapsed time.Duration)
}

// Sink is where readers deliver their results.
type Sink struct {
	Store    *store.Store
	Health   *health.Tracker
	Observer PollObserver
	Logger   *slog.Logger
}

// publish stores fields under code and records the outcome. An empty update
// counts as a failure because no data was obtained.
func (s Sink) publish(kind, code string, fields store.Fields, started time.Time) bool {
	ok := !fields.IsEmpty()
	if ok {
		s.Store.Update(code, fields)
		s.Logger.Debug("reading stored", "kind", kind, "instrument", code, "fields", fields.Names())
	} else {
		s.Logger.Warn("no data in response", "kind", kind, "instrument", code)
	}
	s.Health.Record(code, ok)
	s.observe(kind, ok, started)
	return ok
}

func (s Sink) fail(kind, code string, err error, started time.Time) {
	s.Logger.Warn("poll failed", "kind", kind, "instrument", code, "error", err)
	s.Health.RecordFailure(code)
	s.observe(kind, false, started)
}

func (s Sink) observe(kind string, ok bool, started time.Time) {
	if s.Observer != nil {
		s.Observer.ObservePoll(kind, ok, time.Since(started))
	}
}
