package config

import (
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/netsync/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, DefaultListen)
	}
	if cfg.TickDuration() != 16*time.Millisecond {
		t.Errorf("TickDuration = %v", cfg.TickDuration())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	var ne *errors.NetsyncError
	if !stderrors.As(err, &ne) || ne.Code != "E123" {
		t.Fatalf("missing config err = %v, want E123", err)
	}

	configJSON := `{
  "listen": "127.0.0.1:9000",
  "tickRate": "50ms",
  "transport": {"maxPacketSize": 512},
  "ping": {"interval": "250ms"},
  "capture": {"enabled": true, "bucket": "caps"}
}
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Error("Exists = false")
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.TickDuration() != 50*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Transport.MaxPacketSize != 512 || cfg.Transport.PacketHistory != 256 || cfg.Transport.MaxPacketRate != 240 {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Ping.StatsWindow != "2s" {
		t.Errorf("StatsWindow default not applied: %q", cfg.Ping.StatsWindow)
	}
	if cfg.Capture.Prefix != DefaultCapturePrefix || !cfg.Capture.Enabled || cfg.Capture.Bucket != "caps" {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Path() != filepath.Join(dir, ConfigFileName) {
		t.Errorf("Path = %q", cfg.Path())
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte("{not json"), 0644)
	_, err := LoadFile(path)
	var ne *errors.NetsyncError
	if !stderrors.As(err, &ne) || ne.Code != "E120" {
		t.Errorf("err = %v, want E120", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := New()
	cfg.TickRate = "20ms"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TickRate != "20ms" || loaded.Listen != cfg.Listen {
		t.Errorf("loaded = %+v", loaded)
	}

	if err := New().Save(); err == nil {
		t.Error("Save without a path succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantCode string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad listen", func(c *Config) { c.Listen = "7777" }, "E122"},
		{"bad tick rate", func(c *Config) { c.TickRate = "fast" }, "E121"},
		{"zero tick rate", func(c *Config) { c.TickRate = "0s" }, "E121"},
		{"zero send interval", func(c *Config) { c.Transport.SendInterval = "0s" }, ""},
		{"negative ping", func(c *Config) { c.Ping.Interval = "-1s" }, "E121"},
		{"tiny packets", func(c *Config) { c.Transport.MaxPacketSize = 10 }, "E121"},
		{"no history", func(c *Config) { c.Transport.PacketHistory = -1 }, "E121"},
		{"negative packet rate", func(c *Config) { c.Transport.MaxPacketRate = -5 }, "E121"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "E121"},
		{"absolute prefix", func(c *Config) {
			c.Capture = CaptureConfig{Enabled: true, Bucket: "b", Prefix: "/x"}
		}, "E121"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			var ne *errors.NetsyncError
			if !stderrors.As(err, &ne) || ne.Code != tt.wantCode {
				t.Errorf("Validate() = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := New()
	cfg.LogLevel = "debug"
	if lvl, err := cfg.SlogLevel(); err != nil || lvl != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, %v", lvl, err)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := New()
	cfg.Transport.SendInterval = "30ms"
	cfg.Transport.MaxPacketSize = 800
	cfg.Ping.Interval = "1s"
	sc := cfg.ServerConfig()
	if sc.Transport.SendInterval != 30*time.Millisecond || sc.Transport.MaxPacketSize != 800 {
		t.Errorf("Transport = %+v", sc.Transport)
	}
	if sc.Ping.PingInterval != time.Second || sc.Ping.StatsWindow != 2*time.Second {
		t.Errorf("Ping = %+v", sc.Ping)
	}
}
