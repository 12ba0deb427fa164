package readers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"observatory-collector/internal/conditions"
	"observatory-collector/internal/config"
	"observatory-collector/internal/identity"
	"observatory-collector/internal/schedule"
	"observatory-collector/internal/store"
)

const (
	cwLastDataPath  = "/cgi-bin/cgiLastData"
	cwDebugDataPath = "/cgi-bin/cgiDebugData"
)

// Cloudwatcher polls the CGI interface of an AAG Cloudwatcher.
type Cloudwatcher struct {
	host     string
	baseURL  string
	slot     int
	interval time.Duration
	client   *http.Client
	id       *identity.Resolver
	sink     Sink
}

func NewCloudwatcher(dev config.Device, client *http.Client, sink Sink) *Cloudwatcher {
	return &Cloudwatcher{
		host:     dev.Host,
		baseURL:  "http://" + dev.Host,
		slot:     dev.Slot,
		interval: dev.Interval,
		client:   client,
		id:       identity.New(KindCloudwatcher, dev.Host),
		sink:     sink,
	}
}

func (r *Cloudwatcher) Code() string {
	return r.id.Code()
}

func (r *Cloudwatcher) Run(ctx context.Context) error {
	r.sink.Logger.Info("starting cloudwatcher reader", "slot", r.slot, "url", r.baseURL+cwLastDataPath)
	return schedule.Every(ctx, 0, r.interval, func(ctx context.Context) {
		_ = r.Poll(ctx)
	})
}

func (r *Cloudwatcher) Poll(ctx context.Context) error {
	started := time.Now()

	if !r.id.Promoted() {
		code, err := r.id.Resolve(ctx, r.serial)
		var uerr *url.Error
		switch {
		case errors.As(err, &uerr):
			// Unreachable: the data request would time out the same way.
			r.sink.fail(KindCloudwatcher, r.id.Code(), err, started)
			return err
		case err != nil:
			r.sink.Logger.Warn("cloudwatcher serial lookup failed", "host", r.host, "error", err)
		case code == identity.AddressCode(KindCloudwatcher, r.host):
			r.sink.Logger.Info("cloudwatcher has no serial, using address code", "host", r.host, "instrument", code)
		default:
			r.sink.Logger.Info("cloudwatcher identified", "host", r.host, "instrument", code)
		}
	}

	pairs, err := r.get(ctx, cwLastDataPath)
	if err != nil {
		r.sink.fail(KindCloudwatcher, r.id.Code(), err, started)
		return err
	}
	fields, err := CloudwatcherFields(toMap(pairs), cgiSafe)
	if err != nil {
		r.sink.fail(KindCloudwatcher, r.id.Code(), err, started)
		return err
	}
	r.sink.publish(KindCloudwatcher, r.id.Code(), fields, started)
	return nil
}

// serial returns the first non-empty value whose key mentions "serial".
func (r *Cloudwatcher) serial(ctx context.Context) (string, error) {
	pairs, err := r.get(ctx, cwDebugDataPath)
	if err != nil {
		return "", err
	}
	for _, kv := range pairs {
		if strings.Contains(strings.ToLower(kv.key), "serial") && kv.value != "" {
			return kv.value, nil
		}
	}
	return "", nil
}

func (r *Cloudwatcher) get(ctx context.Context, path string) ([]keyValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	pairs, err := parseKeyValues(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return pairs, nil
}

type keyValue struct {
	key   string
	value string
}

// parseKeyValues reads "key=value" lines. Lines without "=" are skipped.
func parseKeyValues(r io.Reader) ([]keyValue, error) {
	var out []keyValue
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		out = append(out, keyValue{key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
	}
	return out, sc.Err()
}

func toMap(pairs []keyValue) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		m[kv.key] = kv.value
	}
	return m
}

func cgiSafe(v string) bool {
	return v == "1"
}

// CloudwatcherFields maps Cloudwatcher values (clouds, temp, rain, lightmpsas,
// wind and their *Safe flags) to a partial reading. isSafe interprets a
// non-empty safe flag; a flag takes precedence over the value-based
// classification.
func CloudwatcherFields(values map[string]string, isSafe func(string) bool) (store.Fields, error) {
	var f store.Fields

	sky, hasSky, err := floatValue(values, "clouds")
	if err != nil {
		return f, err
	}
	ambient, hasAmbient, err := floatValue(values, "temp")
	if err != nil {
		return f, err
	}
	if hasSky {
		f.SkyTemp = store.Float(sky)
	}
	if hasAmbient {
		f.AmbientTemp = store.Float(ambient)
	}
	if flag := values["cloudsSafe"]; flag != "" {
		f.CloudCondition = conditions.CloudFromSafe(isSafe(flag)).Ptr()
	} else if hasSky && hasAmbient {
		f.CloudCondition = conditions.CloudFromTemps(sky, ambient).Ptr()
	}

	rain, hasRain, err := floatValue(values, "rain")
	if err != nil {
		return f, err
	}
	if flag := values["rainSafe"]; flag != "" {
		f.RainCondition = conditions.RainFromSafe(isSafe(flag)).Ptr()
	} else if hasRain {
		f.RainCondition = conditions.RainFromSensor(int(rain)).Ptr()
	}

	mpsas, hasLight, err := floatValue(values, "lightmpsas")
	if err != nil {
		return f, err
	}
	if flag := values["lightSafe"]; flag != "" {
		f.DayCondition = conditions.DayFromSafe(isSafe(flag)).Ptr()
	} else if hasLight {
		f.DayCondition = conditions.DayFromMPSAS(mpsas).Ptr()
	}

	wind, hasWind, err := floatValue(values, "wind")
	if err != nil {
		return f, err
	}
	if flag := values["windSafe"]; flag != "" {
		f.WindCondition = conditions.WindFromSafe(isSafe(flag)).Ptr()
	} else if hasWind {
		f.WindCondition = conditions.WindFromSpeed(&wind).Ptr()
	}

	return f, nil
}

func floatValue(values map[string]string, key string) (float64, bool, error) {
	s, ok := values[key]
	if !ok || s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", ErrInvalidResponse, key, s)
	}
	return v, true, nil
}
