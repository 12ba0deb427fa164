package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory-collector/internal/conditions"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(clock.Now), clock
}

func TestUpdate_MergesPartialFields(t *testing.T) {
	s, clock := newTestStore()

	s.Update("wx-mqtt", Fields{Temperature: Float(20)})
	clock.Advance(time.Minute)
	s.Update("wx-mqtt", Fields{Humidity: Float(50)})

	got := s.Get("wx-mqtt")
	require.NotNil(t, got.Temperature)
	require.NotNil(t, got.Humidity)
	assert.Equal(t, 20.0, *got.Temperature)
	assert.Equal(t, 50.0, *got.Humidity)
	assert.Equal(t, clock.Now(), got.Timestamp)
}

func TestUpdate_NilDoesNotOverwrite(t *testing.T) {
	s, _ := newTestStore()

	s.Update("sqm-41", Fields{SkyQuality: Float(21.2), SQMTemperature: Float(12)})
	s.Update("sqm-41", Fields{SkyQuality: Float(21.4)})

	got := s.Get("sqm-41")
	assert.Equal(t, 21.4, *got.SkyQuality)
	assert.Equal(t, 12.0, *got.SQMTemperature)
}

func TestUpdate_LoRaSensorsMergedByKey(t *testing.T) {
	s, _ := newTestStore()

	s.Update("wx-mqtt", Fields{LoRaSensors: map[string]LoRaSensor{
		"n1": {"temp": 11.0},
		"n2": {"temp": 12.0},
	}})
	s.Update("wx-mqtt", Fields{LoRaSensors: map[string]LoRaSensor{
		"n2": {"temp": 13.0},
		"n3": {"temp": 14.0},
	}})

	got := s.Get("wx-mqtt").LoRaSensors
	require.Len(t, got, 3)
	assert.Equal(t, 11.0, got["n1"]["temp"])
	assert.Equal(t, 13.0, got["n2"]["temp"])
	assert.Equal(t, 14.0, got["n3"]["temp"])
}

func TestGet_UnknownAndDefensiveCopy(t *testing.T) {
	s, _ := newTestStore()

	empty := s.Get("missing")
	assert.True(t, empty.IsEmpty())
	assert.True(t, empty.Timestamp.IsZero())

	s.Update("davis-1", Fields{Temperature: Float(5), LoRaSensors: map[string]LoRaSensor{"n1": {"v": 1.0}}})
	got := s.Get("davis-1")
	*got.Temperature = 99
	got.LoRaSensors["n1"]["v"] = 2.0
	got.LoRaSensors["n9"] = LoRaSensor{}

	again := s.Get("davis-1")
	assert.Equal(t, 5.0, *again.Temperature)
	assert.Equal(t, 1.0, again.LoRaSensors["n1"]["v"])
	assert.Len(t, again.LoRaSensors, 1)

	all := s.GetAll()
	*all["davis-1"].Temperature = 77
	assert.Equal(t, 5.0, *s.Get("davis-1").Temperature)
}

func TestGetAll(t *testing.T) {
	s, _ := newTestStore()
	s.Update("a", Fields{Temperature: Float(1)})
	s.Update("b", Fields{Humidity: Float(2)})

	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, 1.0, *all["a"].Temperature)
	assert.Nil(t, all["a"].Humidity)
	assert.Equal(t, 2.0, *all["b"].Humidity)
	assert.Equal(t, []string{"a", "b"}, s.Codes())
}

func TestGetCombined_NonNilWins(t *testing.T) {
	s, _ := newTestStore()
	s.Update("a", Fields{Temperature: Float(10)})
	s.Update("b", Fields{Temperature: nil, Humidity: Float(60)})

	c := s.GetCombined()
	require.NotNil(t, c.Temperature)
	require.NotNil(t, c.Humidity)
	assert.Equal(t, 10.0, *c.Temperature)
	assert.Equal(t, 60.0, *c.Humidity)
}

func TestGetCombined_LaterCodeOverwritesAndLoRaAccumulates(t *testing.T) {
	s, clock := newTestStore()
	s.Update("cw-1", Fields{CloudCondition: conditions.Clear.Ptr(), Temperature: Float(3)})
	clock.Advance(time.Second)
	s.Update("wx-mqtt", Fields{Temperature: Float(4), LoRaSensors: map[string]LoRaSensor{"n1": {}}})
	s.Update("davis-9", Fields{LoRaSensors: map[string]LoRaSensor{"n2": {}}})

	c := s.GetCombined()
	assert.Equal(t, 4.0, *c.Temperature, "wx-mqtt sorts last")
	assert.Equal(t, conditions.Clear, *c.CloudCondition)
	assert.Equal(t, conditions.Unknown, *c.RainCondition)
	assert.Len(t, c.LoRaSensors, 2)
	assert.Equal(t, clock.Now(), c.Timestamp)
}

func TestGetCombined_Empty(t *testing.T) {
	s, _ := newTestStore()
	c := s.GetCombined()
	assert.Nil(t, c.Temperature)
	assert.Equal(t, conditions.Unknown, *c.DayCondition)
	assert.True(t, c.Timestamp.IsZero())
}

func TestReadingJSON(t *testing.T) {
	s, _ := newTestStore()
	s.Update("cw-1", Fields{SkyTemp: Float(-20), CloudCondition: conditions.Cloudy.Ptr()})

	b, err := json.Marshal(s.Get("cw-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sky_temp":-20,"cloud_condition":"Cloudy","timestamp":"2026-03-01T12:00:00Z"}`, string(b))

	b, err = json.Marshal(Reading{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestFieldsNames(t *testing.T) {
	f := Fields{Temperature: Float(1), DayCondition: conditions.Dark.Ptr(), LoRaSensors: map[string]LoRaSensor{"x": nil}}
	assert.Equal(t, []string{"temperature", "day_condition", "lora_sensors"}, f.Names())
	assert.Empty(t, Fields{}.Names())
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("dev-%d", i%3)
			for j := 0; j < 200; j++ {
				s.Update(code, Fields{Temperature: Float(float64(j))})
				_ = s.GetCombined()
				_ = s.GetAll()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, []string{"dev-0", "dev-1", "dev-2"}, s.Codes())
}
