package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type devicesFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadDevicesFile reads additional devices from a YAML file:
//
//	devices:
//	  - type: sqm
//	    host: 192.168.1.50
//	    port: 10001
//	    interval: 60s
//	  - type: davis
//	    host: 192.168.1.60
func LoadDevicesFile(path string) ([]Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	var f devicesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse devices file %s: %w", path, err)
	}

	out := make([]Device, 0, len(f.Devices))
	for i, d := range f.Devices {
		d.Type = strings.ToLower(strings.TrimSpace(d.Type))
		d.Host = strings.TrimSpace(d.Host)
		switch d.Type {
		case DeviceSQM, DeviceDavis, DeviceCloudwatcher:
		case "cloudwatcher":
			d.Type = DeviceCloudwatcher
		default:
			return nil, fmt.Errorf("devices[%d]: unknown type %q (allowed: sqm, davis, cw)", i, d.Type)
		}
		if d.Host == "" {
			return nil, fmt.Errorf("devices[%d]: host is required", i)
		}
		if d.Interval < 0 {
			return nil, fmt.Errorf("devices[%d]: interval must be positive", i)
		}
		if d.Type != DeviceSQM {
			d.Port = 0
		}
		d.applyDefaults()
		out = append(out, d)
	}
	return out, nil
}
