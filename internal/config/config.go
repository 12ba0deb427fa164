package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Device types, also used as the instrument code prefix.
const (
	DeviceSQM          = "sqm"
	DeviceDavis        = "davis"
	DeviceCloudwatcher = "cw"
)

// MaxSlots is the number of env-configurable devices per type.
const MaxSlots = 3

// Device is one network-attached instrument to poll.
type Device struct {
	Type     string        `yaml:"type"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
	Slot     int           `yaml:"-"`
}

// Addr is host:port for TCP devices and host for HTTP devices.
func (d Device) Addr() string {
	if d.Port > 0 {
		return fmt.Sprintf("%s:%d", d.Host, d.Port)
	}
	return d.Host
}

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	RemoteAPI string
	APIKey    string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	PushInterval          time.Duration
	ConfigPushInterval    time.Duration
	ConfigPushDelay       time.Duration
	HeartbeatInterval     time.Duration
	HeartbeatDelay        time.Duration
	StatusLogInterval     time.Duration
	DeviceTimeout         time.Duration
	AllSkyImagePath       string
	AllSkyImageURL        string
	InstrumentCodeWeather string
	InstrumentCodeCloud   string

	SQMDevices          []Device
	DavisDevices        []Device
	CloudwatcherDevices []Device
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              ":8080",
		RemoteAPI:             strings.TrimRight(getenvDefault("REMOTE_API_URL", "https://your-site.vercel.app/api/ingest"), "/"),
		APIKey:                strings.TrimSpace(os.Getenv("API_KEY")),
		MQTTBroker:            getenvDefault("MQTT_BROKER", "localhost"),
		MQTTClientID:          getenvDefault("MQTT_CLIENT_ID", "observatory-collector"),
		AllSkyImagePath:       getenvDefault("ALLSKY_IMAGE_PATH", "/home/pi/allsky/tmp/image.jpg"),
		AllSkyImageURL:        strings.TrimSpace(os.Getenv("ALLSKY_IMAGE_URL")),
		InstrumentCodeWeather: getenvDefault("INSTRUMENT_CODE_MQTT_WEATHER", "wx-mqtt"),
		InstrumentCodeCloud:   getenvDefault("INSTRUMENT_CODE_MQTT_CLOUDWATCHER", "cw-mqtt"),
	}
	// An explicitly empty HTTP_ADDR disables the local API.
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}

	if cfg.MQTTPort, err = getenvInt("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}

	durations := []struct {
		dst  *time.Duration
		name string
		def  time.Duration
	}{
		{&cfg.PushInterval, "PUSH_INTERVAL", 60 * time.Second},
		{&cfg.ConfigPushInterval, "CONFIG_PUSH_INTERVAL", time.Hour},
		{&cfg.ConfigPushDelay, "CONFIG_PUSH_DELAY", 15 * time.Second},
		{&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL", 60 * time.Second},
		{&cfg.HeartbeatDelay, "HEARTBEAT_DELAY", 10 * time.Second},
		{&cfg.StatusLogInterval, "STATUS_LOG_INTERVAL", 5 * time.Minute},
		{&cfg.DeviceTimeout, "DEVICE_TIMEOUT", 10 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.name, d.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.SQMDevices, err = deviceSlots("SQM", DeviceSQM); err != nil {
		return Config{}, err
	}
	if cfg.DavisDevices, err = deviceSlots("DAVIS", DeviceDavis); err != nil {
		return Config{}, err
	}
	if cfg.CloudwatcherDevices, err = deviceSlots("CLOUDWATCHER", DeviceCloudwatcher); err != nil {
		return Config{}, err
	}

	if path := strings.TrimSpace(os.Getenv("DEVICES_FILE")); path != "" {
		extra, err := LoadDevicesFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.addDevices(extra)
	}

	return cfg, nil
}

// deviceSlots reads <PREFIX>_<n>_HOST/PORT/INTERVAL for n in 1..MaxSlots.
// Slots without a host are skipped.
func deviceSlots(prefix, deviceType string) ([]Device, error) {
	var out []Device
	for slot := 1; slot <= MaxSlots; slot++ {
		key := fmt.Sprintf("%s_%d", prefix, slot)
		host := strings.TrimSpace(os.Getenv(key + "_HOST"))
		if host == "" {
			continue
		}
		d := Device{Type: deviceType, Host: host, Slot: slot}
		d.applyDefaults()

		if deviceType == DeviceSQM {
			port, err := getenvInt(key+"_PORT", d.Port)
			if err != nil {
				return nil, err
			}
			d.Port = port
		}
		interval, err := getenvDuration(key+"_INTERVAL", d.Interval)
		if err != nil {
			return nil, err
		}
		d.Interval = interval
		out = append(out, d)
	}
	return out, nil
}

func (d *Device) applyDefaults() {
	switch d.Type {
	case DeviceSQM:
		if d.Port == 0 {
			d.Port = 10001
		}
		if d.Interval == 0 {
			d.Interval = 60 * time.Second
		}
	default:
		if d.Interval == 0 {
			d.Interval = 30 * time.Second
		}
	}
}

func (c *Config) addDevices(devices []Device) {
	for _, d := range devices {
		switch d.Type {
		case DeviceSQM:
			d.Slot = len(c.SQMDevices) + 1
			c.SQMDevices = append(c.SQMDevices, d)
		case DeviceDavis:
			d.Slot = len(c.DavisDevices) + 1
			c.DavisDevices = append(c.DavisDevices, d)
		case DeviceCloudwatcher:
			d.Slot = len(c.CloudwatcherDevices) + 1
			c.CloudwatcherDevices = append(c.CloudwatcherDevices, d)
		}
	}
}

// Devices returns every configured device.
func (c Config) Devices() []Device {
	out := make([]Device, 0, len(c.SQMDevices)+len(c.DavisDevices)+len(c.CloudwatcherDevices))
	out = append(out, c.SQMDevices...)
	out = append(out, c.DavisDevices...)
	out = append(out, c.CloudwatcherDevices...)
	return out
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

// getenvDuration accepts Go durations ("90s", "1m") or bare seconds ("60").
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
