package health

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordPattern records failures first, then successes.
func recordPattern(tr *Tracker, code string, failures, successes int) {
	for i := 0; i < failures; i++ {
		tr.RecordFailure(code)
	}
	for i := 0; i < successes; i++ {
		tr.RecordSuccess(code)
	}
}

func TestStatus_GracePeriod(t *testing.T) {
	patterns := [][]bool{
		{},
		{false},
		{false, false},
		{true, false},
	}
	for i, p := range patterns {
		tr := NewTracker()
		for _, ok := range p {
			tr.Record("sqm-1", ok)
		}
		assert.Equal(t, Healthy, tr.Status("sqm-1"), "pattern %d", i)
	}
}

func TestStatus_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		want      Status
	}{
		{name: "all good", failures: 0, successes: 10, want: Healthy},
		{name: "one failure", failures: 1, successes: 9, want: Healthy},
		{name: "two failures is degraded", failures: 2, successes: 8, want: Degraded},
		{name: "seven failures", failures: 7, successes: 3, want: Degraded},
		{name: "eight failures is offline", failures: 8, successes: 2, want: Offline},
		{name: "all failed", failures: 10, successes: 0, want: Offline},
		{name: "three failures after grace", failures: 3, successes: 0, want: Offline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			recordPattern(tr, "davis-1", tt.failures, tt.successes)
			assert.Equal(t, tt.want, tr.Status("davis-1"))
		})
	}
}

func TestWindowEviction(t *testing.T) {
	tr := NewTracker()
	tr.RecordFailure("cw-1")
	for i := 0; i < 9; i++ {
		tr.RecordSuccess("cw-1")
	}
	assert.InDelta(t, 0.1, tr.FailureRate("cw-1"), 1e-9)

	// 11th outcome evicts the initial failure.
	tr.RecordSuccess("cw-1")
	assert.InDelta(t, 0.0, tr.FailureRate("cw-1"), 1e-9)

	for i := 0; i < 10; i++ {
		tr.RecordFailure("cw-1")
	}
	assert.InDelta(t, 1.0, tr.FailureRate("cw-1"), 1e-9)
	assert.Equal(t, Offline, tr.Status("cw-1"))

	tr.RecordSuccess("cw-1")
	tr.RecordSuccess("cw-1")
	tr.RecordSuccess("cw-1")
	assert.InDelta(t, 0.7, tr.FailureRate("cw-1"), 1e-9)
	assert.Equal(t, Degraded, tr.Status("cw-1"))
}

func TestUnknownCode(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Healthy, tr.Status("nope"))
	assert.Equal(t, 0.0, tr.FailureRate("nope"))
	assert.Empty(t, tr.AllStatuses())
}

func TestAllStatusesAndReports(t *testing.T) {
	tr := NewTracker()
	recordPattern(tr, "a", 0, 5)
	recordPattern(tr, "b", 5, 0)
	recordPattern(tr, "c", 1, 0)

	assert.Equal(t, map[string]Status{"a": Healthy, "b": Offline, "c": Healthy}, tr.AllStatuses())

	reports := tr.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, Offline, reports["b"].Status)
	assert.Equal(t, 1.0, reports["b"].FailureRate)
	assert.Equal(t, 1.0, reports["c"].FailureRate)
	assert.Equal(t, Healthy, reports["c"].Status)

	assert.Equal(t, []string{"a", "b", "c"}, tr.Codes())
}

func TestReport_ConsistentUnderConcurrentRecording(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Report{Status: Healthy}, tr.Report("sqm-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			tr.Record("sqm-1", i%3 == 0)
		}
	}()

	for {
		select {
		case <-done:
			rep := tr.Report("sqm-1")
			assert.Equal(t, WindowSize, rep.Samples)
			return
		default:
		}
		rep := tr.Report("sqm-1")
		want := Healthy
		switch {
		case rep.Samples < MinReadings:
		case rep.FailureRate >= OfflineThreshold:
			want = Offline
		case rep.FailureRate >= DegradedThreshold:
			want = Degraded
		}
		require.Equal(t, want, rep.Status, "rate=%v samples=%d", rep.FailureRate, rep.Samples)
	}
}

func TestConcurrentRecording(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		code := fmt.Sprintf("dev-%d", i)
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(code, !fail)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	statuses := tr.AllStatuses()
	require.Len(t, statuses, 8)
	for i := 0; i < 8; i++ {
		code := fmt.Sprintf("dev-%d", i)
		if i%2 == 0 {
			assert.Equal(t, Offline, statuses[code], code)
		} else {
			assert.Equal(t, Healthy, statuses[code], code)
		}
	}
}
