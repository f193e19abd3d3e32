package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/netsync/internal/config"
	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/internal/host"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *daemon {
	t.Helper()
	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	d, err := newDaemon(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.hub.Close)
	return d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	d := newTestDaemon(t, nil)
	h := d.routes()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("/healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec := get(t, h, "/peers")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("/peers = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	var peers []host.PeerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil || len(peers) != 0 {
		t.Errorf("/peers body = %s, err = %v", rec.Body.String(), err)
	}

	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"netsync_server_connected_clients", "netsync_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}

	if rec := get(t, h, "/status"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tick"`) {
		t.Errorf("/status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutes_MetricsDisabled(t *testing.T) {
	d := newTestDaemon(t, func(c *config.Config) { c.Metrics.Disabled = true })
	if rec := get(t, d.routes(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics = %d, want 404", rec.Code)
	}
}

func TestRoutes_WebsocketPeerJoins(t *testing.T) {
	d := newTestDaemon(t, nil)
	srv := httptest.NewServer(d.routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(d.host.Peers()) == 0 || d.host.Status().Peers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("peer never joined")
		}
		if err := d.host.Step(context.Background(), 16*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The first flush carries a ping.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage || len(data) == 0 {
		t.Errorf("got message type %d with %d bytes", kind, len(data))
	}
}

func TestNewArchive(t *testing.T) {
	a, err := newArchive(config.CaptureConfig{}, slog.Default())
	if err != nil || a != nil {
		t.Errorf("disabled capture = %v, %v; want nil", a, err)
	}

	dir := filepath.Join(t.TempDir(), "caps")
	a, err = newArchive(config.CaptureConfig{Enabled: true, Dir: dir}, slog.Default())
	if err != nil || a == nil {
		t.Fatalf("disk capture = %v, %v", a, err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("capture dir not created: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	if _, err := execute(t, "config", "init", "--dir", dir); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != config.DefaultListen {
		t.Errorf("Listen = %q", cfg.Listen)
	}

	_, err = execute(t, "config", "init", "--dir", dir)
	var ne *errors.NetsyncError
	if !stderrors.As(err, &ne) || ne.Code != "E140" {
		t.Errorf("second init error = %v, want E140", err)
	}

	if _, err := execute(t, "config", "init", "--dir", dir, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestConfigPrint(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"listen": ":9000"}`), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "print", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `":9000"`) || !strings.Contains(out, `"tickRate": "16ms"`) {
		t.Errorf("output = %s", out)
	}

	_, err = execute(t, "config", "print", "--config", filepath.Join(t.TempDir(), "missing.json"))
	var ne *errors.NetsyncError
	if !stderrors.As(err, &ne) || ne.Code != "E123" {
		t.Errorf("missing file error = %v, want E123", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version = %q", out)
	}
}
