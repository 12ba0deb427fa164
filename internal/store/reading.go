package store

import (
	"maps"
	"time"

	"observatory-collector/internal/conditions"
)

// LoRaSensor is the last payload received from one LoRa sensor, as decoded
// from MQTT, plus a "last_update" stamp.
type LoRaSensor map[string]any

// Fields is a partial reading. A nil field means "not part of this update".
type Fields struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	Dewpoint      *float64 `json:"dewpoint,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindGust      *float64 `json:"wind_gust,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	RainRate      *float64 `json:"rain_rate,omitempty"`

	CloudCondition *conditions.Condition `json:"cloud_condition,omitempty"`
	RainCondition  *conditions.Condition `json:"rain_condition,omitempty"`
	WindCondition  *conditions.Condition `json:"wind_condition,omitempty"`
	DayCondition   *conditions.Condition `json:"day_condition,omitempty"`

	SkyTemp        *float64 `json:"sky_temp,omitempty"`
	AmbientTemp    *float64 `json:"ambient_temp,omitempty"`
	SkyQuality     *float64 `json:"sky_quality,omitempty"`
	SQMTemperature *float64 `json:"sqm_temperature,omitempty"`

	LoRaSensors map[string]LoRaSensor `json:"lora_sensors,omitempty"`
}

// Reading is the merged state of one instrument. A zero Timestamp means the
// instrument has never been updated.
type Reading struct {
	Fields
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Float returns a pointer to v, for building partial readings.
func Float(v float64) *float64 {
	return &v
}

// Merge applies u on top of f: set fields overwrite, nil fields are left
// alone, and LoRa sensors are merged by sensor id.
func (f *Fields) Merge(u Fields) {
	mergeFloat(&f.Temperature, u.Temperature)
	mergeFloat(&f.Humidity, u.Humidity)
	mergeFloat(&f.Pressure, u.Pressure)
	mergeFloat(&f.Dewpoint, u.Dewpoint)
	mergeFloat(&f.WindSpeed, u.WindSpeed)
	mergeFloat(&f.WindGust, u.WindGust)
	mergeFloat(&f.WindDirection, u.WindDirection)
	mergeFloat(&f.RainRate, u.RainRate)

	mergeCondition(&f.CloudCondition, u.CloudCondition)
	mergeCondition(&f.RainCondition, u.RainCondition)
	mergeCondition(&f.WindCondition, u.WindCondition)
	mergeCondition(&f.DayCondition, u.DayCondition)

	mergeFloat(&f.SkyTemp, u.SkyTemp)
	mergeFloat(&f.AmbientTemp, u.AmbientTemp)
	mergeFloat(&f.SkyQuality, u.SkyQuality)
	mergeFloat(&f.SQMTemperature, u.SQMTemperature)

	if len(u.LoRaSensors) > 0 {
		if f.LoRaSensors == nil {
			f.LoRaSensors = make(map[string]LoRaSensor, len(u.LoRaSensors))
		}
		for id, s := range u.LoRaSensors {
			f.LoRaSensors[id] = maps.Clone(s)
		}
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeCondition(dst **conditions.Condition, src *conditions.Condition) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// IsEmpty reports whether no recognized field is set.
func (f Fields) IsEmpty() bool {
	return f.Temperature == nil && f.Humidity == nil && f.Pressure == nil &&
		f.Dewpoint == nil && f.WindSpeed == nil && f.WindGust == nil &&
		f.WindDirection == nil && f.RainRate == nil &&
		f.CloudCondition == nil && f.RainCondition == nil &&
		f.WindCondition == nil && f.DayCondition == nil &&
		f.SkyTemp == nil && f.AmbientTemp == nil &&
		f.SkyQuality == nil && f.SQMTemperature == nil &&
		len(f.LoRaSensors) == 0
}

// Names lists the JSON names of the fields that are set, in declaration order.
func (f Fields) Names() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(f.Temperature != nil, "temperature")
	add(f.Humidity != nil, "humidity")
	add(f.Pressure != nil, "pressure")
	add(f.Dewpoint != nil, "dewpoint")
	add(f.WindSpeed != nil, "wind_speed")
	add(f.WindGust != nil, "wind_gust")
	add(f.WindDirection != nil, "wind_direction")
	add(f.RainRate != nil, "rain_rate")
	add(f.CloudCondition != nil, "cloud_condition")
	add(f.RainCondition != nil, "rain_condition")
	add(f.WindCondition != nil, "wind_condition")
	add(f.DayCondition != nil, "day_condition")
	add(f.SkyTemp != nil, "sky_temp")
	add(f.AmbientTemp != nil, "ambient_temp")
	add(f.SkyQuality != nil, "sky_quality")
	add(f.SQMTemperature != nil, "sqm_temperature")
	add(len(f.LoRaSensors) > 0, "lora_sensors")
	return out
}

// clone returns a deep copy that shares no pointers or maps with f.
func (f Fields) clone() Fields {
	var out Fields
	out.Merge(f)
	return out
}
