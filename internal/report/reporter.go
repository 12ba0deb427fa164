// Package report pushes collected readings, instrument health and the AllSky
// image to the remote observatory API.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"observatory-collector/internal/config"
	"observatory-collector/internal/health"
	"observatory-collector/internal/schedule"
	"observatory-collector/internal/store"
)

const (
	CollectorVersion = "2.0.0"

	imageFilename  = "allsky.jpg"
	imageMaxAge    = 5 * time.Minute
	imageFetchWait = 30 * time.Second
	imageMinBytes  = 1000
)

// Reporter owns the periodic pushes to the remote API.
type Reporter struct {
	cfg         config.Config
	client      *Client
	fetch       *http.Client
	store       *store.Store
	health      *health.Tracker
	logger      *slog.Logger
	collectorID string
	started     time.Time
	now         func() time.Time
}

func New(cfg config.Config, client *Client, st *store.Store, tracker *health.Tracker, logger *slog.Logger) *Reporter {
	return &Reporter{
		cfg:         cfg,
		client:      client,
		fetch:       &http.Client{Timeout: imageFetchWait},
		store:       st,
		health:      tracker,
		logger:      logger,
		collectorID: CollectorID(),
		started:     time.Now(),
		now:         time.Now,
	}
}

// CollectorID identifies this host to the remote API.
func CollectorID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "pi-" + host
}

// Run starts the push loops and the status log and blocks until ctx is done.
// Without an API key only the status log runs.
func (r *Reporter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(schedule.Every(ctx, r.cfg.StatusLogInterval, r.cfg.StatusLogInterval, r.LogStatus))
	})

	if r.cfg.APIKey == "" {
		r.logger.Error("API_KEY not set, data push disabled")
		r.logger.Warn("API_KEY not set, config push and heartbeat disabled")
		return g.Wait()
	}

	r.logger.Info("starting reporter",
		"api", r.cfg.RemoteAPI,
		"collector_id", r.collectorID,
		"push_interval", r.cfg.PushInterval.String(),
	)

	g.Go(func() error {
		return ignoreCanceled(schedule.Every(ctx, 0, r.cfg.PushInterval, func(ctx context.Context) {
			if err := r.PushData(ctx); err != nil {
				r.logger.Warn("data push failed", "error", err)
			}
			if err := r.PushImage(ctx); err != nil {
				r.logger.Warn("image push failed", "error", err)
			}
		}))
	})
	g.Go(func() error {
		return ignoreCanceled(schedule.Every(ctx, r.cfg.ConfigPushDelay, r.cfg.ConfigPushInterval, func(ctx context.Context) {
			if err := r.PushConfig(ctx); err != nil {
				r.logger.Warn("config push failed", "error", err)
			}
		}))
	})
	g.Go(func() error {
		return ignoreCanceled(schedule.Every(ctx, r.cfg.HeartbeatDelay, r.cfg.HeartbeatInterval, func(ctx context.Context) {
			if err := r.Heartbeat(ctx); err != nil {
				r.logger.Debug("heartbeat failed", "error", err)
			}
		}))
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type dataRecord struct {
	InstrumentCode string `json:"instrument_code"`
	store.Fields
}

// PushData posts one record per instrument that has ever been updated. A
// failed record does not stop the others.
func (r *Reporter) PushData(ctx context.Context) error {
	var errs []error
	for code, reading := range r.store.GetAll() {
		if reading.Timestamp.IsZero() {
			continue
		}
		rec := dataRecord{InstrumentCode: code, Fields: reading.Fields}
		if err := r.client.PostJSON(ctx, EndpointData, rec, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		r.logger.Debug("pushed", "instrument", code)
	}
	return errors.Join(errs...)
}

// ErrNoImage is returned when neither image source has a usable picture.
var ErrNoImage = errors.New("no allsky image available")

// PushImage uploads the AllSky picture. A local file younger than five
// minutes wins over the URL source.
func (r *Reporter) PushImage(ctx context.Context) error {
	if r.cfg.AllSkyImagePath == "" && r.cfg.AllSkyImageURL == "" {
		return nil
	}
	img, source, err := r.loadImage(ctx)
	if err != nil {
		return err
	}
	if err := r.client.PostImage(ctx, imageFilename, img); err != nil {
		return err
	}
	r.logger.Debug("pushed allsky image", "source", source, "bytes", len(img))
	return nil
}

func (r *Reporter) loadImage(ctx context.Context) ([]byte, string, error) {
	if path := r.cfg.AllSkyImagePath; path != "" {
		info, err := os.Stat(path)
		if err == nil && r.now().Sub(info.ModTime()) < imageMaxAge {
			img, err := os.ReadFile(path)
			if err == nil {
				return img, "file", nil
			}
			r.logger.Debug("read allsky image", "path", path, "error", err)
		}
	}

	if url := r.cfg.AllSkyImageURL; url != "" {
		img, err := r.fetchImage(ctx, url)
		if err != nil {
			return nil, "", err
		}
		return img, "url", nil
	}
	return nil, "", ErrNoImage
}

func (r *Reporter) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch allsky image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch allsky image: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch allsky image: %w", err)
	}
	if len(img) <= imageMinBytes {
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrNoImage, len(img), url)
	}
	return img, nil
}

type instrumentConfig struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Host string `json:"host"`
	Slot int    `json:"slot"`
}

type configPayload struct {
	CollectorID string             `json:"collector_id"`
	Instruments []instrumentConfig `json:"instruments"`
	Timestamp   string             `json:"timestamp"`
}

type configResponse struct {
	InstrumentsRegistered int `json:"instruments_registered"`
}

// PushConfig registers the known instruments with the remote API.
func (r *Reporter) PushConfig(ctx context.Context) error {
	codes := r.store.Codes()
	payload := configPayload{
		CollectorID: r.collectorID,
		Instruments: make([]instrumentConfig, 0, len(codes)),
		Timestamp:   r.now().UTC().Format(time.RFC3339),
	}
	for _, code := range codes {
		payload.Instruments = append(payload.Instruments, instrumentConfig{
			Code: code,
			Type: instrumentType(code),
			Host: "auto-detected",
		})
	}

	var resp configResponse
	if err := r.client.PostJSON(ctx, EndpointConfig, payload, &resp); err != nil {
		return err
	}
	r.logger.Info("config pushed",
		"collector_id", r.collectorID,
		"instruments", len(codes),
		"instruments_registered", resp.InstrumentsRegistered,
	)
	return nil
}

func instrumentType(code string) string {
	switch {
	case strings.HasPrefix(code, "sqm-"):
		return "sqm"
	case strings.HasPrefix(code, "davis-"):
		return "weather_station"
	case strings.HasPrefix(code, "cw-"):
		return "cloudwatcher"
	default:
		return "unknown"
	}
}

type heartbeatPayload struct {
	Instruments      []string                 `json:"instruments"`
	InstrumentHealth map[string]health.Report `json:"instrument_health"`
	CollectorVersion string                   `json:"collector_version"`
	UptimeSeconds    int64                    `json:"uptime_seconds"`
}

// Heartbeat reports liveness and the health of every active instrument.
func (r *Reporter) Heartbeat(ctx context.Context) error {
	payload := heartbeatPayload{
		Instruments:      []string{},
		InstrumentHealth: map[string]health.Report{},
		CollectorVersion: CollectorVersion,
		UptimeSeconds:    int64(r.now().Sub(r.started).Seconds()),
	}
	var healthy, degraded, offline int
	for _, code := range r.store.Codes() {
		if r.store.Get(code).Timestamp.IsZero() {
			continue
		}
		rep := r.health.Report(code)
		payload.Instruments = append(payload.Instruments, code)
		payload.InstrumentHealth[code] = rep
		switch rep.Status {
		case health.Healthy:
			healthy++
		case health.Degraded:
			degraded++
		case health.Offline:
			offline++
		}
	}

	if err := r.client.PostJSON(ctx, EndpointHeartbeat, payload, nil); err != nil {
		return err
	}
	r.logger.Debug("heartbeat sent",
		"instruments", len(payload.Instruments),
		"healthy", healthy,
		"degraded", degraded,
		"offline", offline,
	)
	return nil
}

// LogStatus writes a summary of the store contents.
func (r *Reporter) LogStatus(context.Context) {
	all := r.store.GetAll()
	r.logger.Info(fmt.Sprintf("Status: %d instruments active", len(all)))
	for _, code := range r.store.Codes() {
		r.logger.Info("instrument status", "instrument", code, "fields", all[code].Names())
	}
}
