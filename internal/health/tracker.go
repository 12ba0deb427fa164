// Package health tracks per-instrument poll outcomes over a sliding window
// and derives a three-level status from the failure rate.
package health

import (
	"sort"
	"sync"
)

// Status is the health of one instrument.
type Status string

const (
	Healthy  Status = "HEALTHY"
	Degraded Status = "DEGRADED"
	Offline  Status = "OFFLINE"
)

const (
	// WindowSize is the number of most recent outcomes kept per instrument.
	WindowSize = 10
	// MinReadings is the grace period: fewer outcomes always report Healthy.
	MinReadings = 3

	DegradedThreshold = 0.2
	OfflineThreshold  = 0.8
)

// window is a fixed-capacity ring of outcomes, true = success.
type window struct {
	buf      [WindowSize]bool
	start    int
	n        int
	failures int
}

func (w *window) push(ok bool) {
	if w.n == WindowSize {
		if !w.buf[w.start] {
			w.failures--
		}
		w.buf[w.start] = ok
		w.start = (w.start + 1) % WindowSize
	} else {
		w.buf[(w.start+w.n)%WindowSize] = ok
		w.n++
	}
	if !ok {
		w.failures++
	}
}

func (w *window) failureRate() float64 {
	if w.n == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.n)
}

func (w *window) status() Status {
	if w.n < MinReadings {
		return Healthy
	}
	rate := w.failureRate()
	switch {
	case rate >= OfflineThreshold:
		return Offline
	case rate >= DegradedThreshold:
		return Degraded
	default:
		return Healthy
	}
}

// Tracker is safe for concurrent use by any number of device tasks.
type Tracker struct {
	mu      sync.Mutex
	history map[string]*window
}

func NewTracker() *Tracker {
	return &Tracker{history: make(map[string]*window)}
}

// RecordSuccess appends a successful outcome for code.
func (t *Tracker) RecordSuccess(code string) {
	t.record(code, true)
}

// RecordFailure appends a failed outcome for code.
func (t *Tracker) RecordFailure(code string) {
	t.record(code, false)
}

// Record appends an outcome for code.
func (t *Tracker) Record(code string, ok bool) {
	t.record(code, ok)
}

func (t *Tracker) record(code string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, found := t.history[code]
	if !found {
		w = &window{}
		t.history[code] = w
	}
	w.push(ok)
}

// Status derives the current status of code. Unknown codes are Healthy.
func (t *Tracker) Status(code string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.history[code]
	if !ok {
		return Healthy
	}
	return w.status()
}

// FailureRate is the share of failures in the retained window, 0 when no
// outcome was recorded.
func (t *Tracker) FailureRate(code string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.history[code]
	if !ok {
		return 0
	}
	return w.failureRate()
}

// Report returns the status and failure rate of code from one snapshot of its
// window. Unknown codes report Healthy with a zero rate.
func (t *Tracker) Report(code string) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.history[code]
	if !ok {
		return Report{Status: Healthy}
	}
	return Report{Status: w.status(), FailureRate: w.failureRate(), Samples: w.n}
}

// AllStatuses snapshots the status of every code with recorded history.
func (t *Tracker) AllStatuses() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.history))
	for code, w := range t.history {
		out[code] = w.status()
	}
	return out
}

// Report is a point-in-time view of one instrument's health.
type Report struct {
	Status      Status  `json:"status"`
	FailureRate float64 `json:"failure_rate"`
	Samples     int     `json:"-"`
}

// Reports snapshots status and failure rate for every tracked code in a
// single critical section.
func (t *Tracker) Reports() map[string]Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Report, len(t.history))
	for code, w := range t.history {
		out[code] = Report{Status: w.status(), FailureRate: w.failureRate(), Samples: w.n}
	}
	return out
}

// Codes returns the tracked codes in ascending order.
func (t *Tracker) Codes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.history))
	for code := range t.history {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
