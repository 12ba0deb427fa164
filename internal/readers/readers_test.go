package readers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"observatory-collector/internal/health"
	"observatory-collector/internal/logging"
	"observatory-collector/internal/store"
)

type pollRecord struct {
	kind string
	ok   bool
}

type recordingObserver struct {
	mu    sync.Mutex
	polls []pollRecord
}

func (o *recordingObserver) ObservePoll(kind string, ok bool, _ time.Duration) {
	o.mu.Lock()
	o.polls = append(o.polls, pollRecord{kind: kind, ok: ok})
	o.mu.Unlock()
}

func (o *recordingObserver) all() []pollRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]pollRecord(nil), o.polls...)
}

func newTestSink() (Sink, *recordingObserver) {
	obs := &recordingObserver{}
	return Sink{
		Store:    store.New(),
		Health:   health.NewTracker(),
		Observer: obs,
		Logger:   logging.Discard(),
	}, obs
}

func TestSinkPublish(t *testing.T) {
	sink, obs := newTestSink()

	assert.True(t, sink.publish(KindSQM, "sqm-1", store.Fields{SkyQuality: store.Float(21)}, time.Now()))
	assert.False(t, sink.publish(KindSQM, "sqm-1", store.Fields{}, time.Now()))

	assert.Equal(t, 0.5, sink.Health.FailureRate("sqm-1"))
	assert.Equal(t, []string{"sqm-1"}, sink.Store.Codes())
	assert.Equal(t, []pollRecord{{KindSQM, true}, {KindSQM, false}}, obs.all())
}
