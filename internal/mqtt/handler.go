package mqtt

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"observatory-collector/internal/conditions"
	"observatory-collector/internal/readers"
	"observatory-collector/internal/store"
)

// Message sources, used as the metrics label.
const (
	SourceWeather      = "weather"
	SourceLoRa         = "lora"
	SourceCloudwatcher = "cloudwatcher"
)

// route picks the source for a topic. Weather topics win over the others,
// so "weather/lora" is treated as weather data.
func route(topic string) string {
	switch {
	case strings.Contains(topic, "weewx"), strings.Contains(topic, "weather"):
		return SourceWeather
	case strings.Contains(topic, "lora"):
		return SourceLoRa
	case strings.Contains(topic, "cloudwatcher"), strings.Contains(topic, "aag"):
		return SourceCloudwatcher
	default:
		return ""
	}
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	source := route(topic)
	if source == "" {
		s.logger.Debug("ignoring mqtt message", "topic", topic)
		return
	}

	var code string
	var fields store.Fields
	var err error
	switch source {
	case SourceWeather:
		code = s.cfg.InstrumentCodeWeather
		fields, err = weewxFields(payload)
	case SourceLoRa:
		code = s.cfg.InstrumentCodeWeather
		fields, err = loraFields(topic, payload, s.now())
	case SourceCloudwatcher:
		code = s.cfg.InstrumentCodeCloud
		fields, err = cloudwatcherFields(payload)
	}

	if err != nil {
		s.logger.Warn("failed to parse mqtt message",
			"topic", topic,
			"instrument", code,
			"error", err,
			"payload", string(payload),
		)
		s.health.RecordFailure(code)
		s.observe(source, false)
		return
	}
	if fields.IsEmpty() {
		s.logger.Debug("mqtt message had no recognized fields", "topic", topic)
		return
	}

	s.store.Update(code, fields)
	s.health.RecordSuccess(code)
	s.observe(source, true)
	s.logger.Debug("processed mqtt message", "topic", topic, "instrument", code, "fields", fields.Names())
}

func (s *Subscriber) observe(source string, ok bool) {
	if s.observer != nil {
		s.observer.ObserveMQTT(source, ok)
	}
}

func decodeObject(payload []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	return m, nil
}

// weewxFields maps a weewx loop packet. Temperatures above 50 are taken to be
// Fahrenheit.
func weewxFields(payload []byte) (store.Fields, error) {
	var f store.Fields
	m, err := decodeObject(payload)
	if err != nil {
		return f, err
	}

	temp := func(key string) *float64 {
		v, ok := number(m[key])
		if !ok {
			return nil
		}
		if v > 50 {
			v = conditions.FahrenheitToCelsius(v)
		}
		return &v
	}
	plain := func(key string) *float64 {
		v, ok := number(m[key])
		if !ok {
			return nil
		}
		return &v
	}

	f.Temperature = temp("outTemp")
	f.Humidity = plain("outHumidity")
	f.Pressure = plain("barometer")
	f.Dewpoint = temp("dewpoint")
	f.WindSpeed = plain("windSpeed")
	f.WindGust = plain("windGust")
	f.WindDirection = plain("windDir")
	f.RainRate = plain("rainRate")
	return f, nil
}

// loraFields stores the whole payload as one LoRa sensor, keyed by its "id"
// or by the last topic segment.
func loraFields(topic string, payload []byte, now time.Time) (store.Fields, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return store.Fields{}, err
	}

	id := topic[strings.LastIndex(topic, "/")+1:]
	if v, ok := m["id"]; ok && v != nil {
		id = text(v)
	}

	sensor := store.LoRaSensor(maps.Clone(m))
	sensor["last_update"] = now.UTC().Format(time.RFC3339)
	return store.Fields{LoRaSensors: map[string]store.LoRaSensor{id: sensor}}, nil
}

func cloudwatcherFields(payload []byte) (store.Fields, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return store.Fields{}, err
	}
	values := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			values[k] = text(v)
		}
	}
	return readers.CloudwatcherFields(values, func(flag string) bool { return flag == "Safe" })
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
