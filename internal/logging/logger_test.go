package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"observatory-collector/internal/config"
)

func TestNew_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}
	logger := newWithWriter(&buf, cfg, "1.2.3", "collector")

	logger.Debug("hidden")
	logger.Info("hello", "instrument", "sqm-41")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	for k, want := range map[string]string{
		"msg":        "hello",
		"app":        "collector",
		"version":    "1.2.3",
		"env":        "prod",
		"instrument": "sqm-41",
	} {
		if got[k] != want {
			t.Errorf("%s = %v; want %s", k, got[k], want)
		}
	}
}

func TestNew_TintInDev(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelDebug}
	logger := newWithWriter(&buf, cfg, "dev", "collector")

	logger.Debug("polling", "instrument", "cw-1")

	out := buf.String()
	if !strings.Contains(out, "polling") || !strings.Contains(out, "instrument=cw-1") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("dev logger should not emit JSON: %q", out)
	}
}
