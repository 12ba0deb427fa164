package readers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"observatory-collector/internal/conditions"
	"observatory-collector/internal/config"
	"observatory-collector/internal/identity"
	"observatory-collector/internal/schedule"
	"observatory-collector/internal/store"
)

// WeatherLink data structure types.
const (
	wllTypeISS       = 1
	wllTypeBarometer = 3
)

type wllResponse struct {
	Data struct {
		DID        string         `json:"did"`
		Conditions []wllCondition `json:"conditions"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

type wllCondition struct {
	LSID          json.Number `json:"lsid"`
	StructureType int         `json:"data_structure_type"`

	Temp          *float64 `json:"temp"`
	Hum           *float64 `json:"hum"`
	DewPoint      *float64 `json:"dew_point"`
	WindSpeedLast *float64 `json:"wind_speed_last"`
	WindDirLast   *float64 `json:"wind_dir_last"`
	WindSpeedHi10 *float64 `json:"wind_speed_hi_last_10_min"`
	RainRateLast  *float64 `json:"rain_rate_last"`

	BarSeaLevel *float64 `json:"bar_sea_level"`
}

// WeatherLink polls a Davis WeatherLink Live local API. The instrument is
// identified by the logical sensor id of its ISS.
type WeatherLink struct {
	url      string
	slot     int
	interval time.Duration
	client   *http.Client
	id       *identity.Resolver
	sink     Sink
}

func NewWeatherLink(dev config.Device, client *http.Client, sink Sink) *WeatherLink {
	return &WeatherLink{
		url:      "http://" + dev.Host + "/v1/current_conditions",
		slot:     dev.Slot,
		interval: dev.Interval,
		client:   client,
		id:       identity.New(KindWeatherLink, dev.Host),
		sink:     sink,
	}
}

func (r *WeatherLink) Code() string {
	return r.id.Code()
}

func (r *WeatherLink) Run(ctx context.Context) error {
	r.sink.Logger.Info("starting weatherlink reader", "slot", r.slot, "url", r.url)
	return schedule.Every(ctx, 0, r.interval, func(ctx context.Context) {
		_ = r.Poll(ctx)
	})
}

func (r *WeatherLink) Poll(ctx context.Context) error {
	started := time.Now()

	resp, err := r.fetch(ctx)
	if err != nil {
		r.sink.fail(KindWeatherLink, r.id.Code(), err, started)
		return err
	}

	if !r.id.Promoted() {
		lsid := issLSID(resp.Data.Conditions)
		code := r.id.ResolveID(lsid)
		if lsid != "" {
			r.sink.Logger.Info("weatherlink identified", "url", r.url, "lsid", lsid, "instrument", code)
		} else {
			r.sink.Logger.Info("weatherlink has no lsid, using address code", "url", r.url, "instrument", code)
		}
	}

	r.sink.publish(KindWeatherLink, r.id.Code(), weatherLinkFields(resp.Data.Conditions), started)
	return nil
}

func (r *WeatherLink) fetch(ctx context.Context) (wllResponse, error) {
	var out wllResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return out, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("get current conditions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, fmt.Errorf("get current conditions: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode current conditions: %v", ErrInvalidResponse, err)
	}
	if len(out.Error) > 0 && string(out.Error) != "null" {
		return out, fmt.Errorf("weatherlink api error: %s", out.Error)
	}
	return out, nil
}

func issLSID(conds []wllCondition) string {
	for _, c := range conds {
		if c.StructureType == wllTypeISS && c.LSID != "" {
			return c.LSID.String()
		}
	}
	return ""
}

// weatherLinkFields converts current conditions to metric units: °C, km/h,
// hPa and mm/h (one rain count is 0.2 mm).
func weatherLinkFields(conds []wllCondition) store.Fields {
	var f store.Fields
	for _, c := range conds {
		switch c.StructureType {
		case wllTypeISS:
			if c.Temp != nil {
				f.Temperature = store.Float(conditions.Round(conditions.FahrenheitToCelsius(*c.Temp), 1))
			}
			if c.Hum != nil {
				f.Humidity = store.Float(*c.Hum)
			}
			if c.DewPoint != nil {
				f.Dewpoint = store.Float(conditions.Round(conditions.FahrenheitToCelsius(*c.DewPoint), 1))
			}
			if c.WindSpeedLast != nil {
				f.WindSpeed = store.Float(conditions.Round(conditions.MphToKmh(*c.WindSpeedLast), 1))
				f.WindCondition = conditions.WindFromSpeed(f.WindSpeed).Ptr()
			}
			if c.WindDirLast != nil {
				f.WindDirection = store.Float(*c.WindDirLast)
			}
			if c.WindSpeedHi10 != nil {
				f.WindGust = store.Float(conditions.Round(conditions.MphToKmh(*c.WindSpeedHi10), 1))
			}
			if c.RainRateLast != nil {
				f.RainRate = store.Float(conditions.Round(*c.RainRateLast*0.2, 2))
			}
		case wllTypeBarometer:
			if c.BarSeaLevel != nil {
				f.Pressure = store.Float(conditions.Round(conditions.InHgToHPa(*c.BarSeaLevel), 1))
			}
		}
	}
	return f
}
