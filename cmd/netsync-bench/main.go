// Command netsync-bench drives a netsync server with simulated players and
// reports round-trip latency, throughput and GC cost.
//
// Without -url it starts an in-process server on a loopback port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/netsync/internal/game"
	"github.com/vango-dev/netsync/internal/host"
	"github.com/vango-dev/netsync/internal/wsnet"
	"github.com/vango-dev/netsync/pkg/server"
)

const (
	gib = int64(1024 * 1024 * 1024)
)

type profile struct {
	Name          string
	Clients       int
	Duration      time.Duration
	InputHz       float64
	MaxProcs      int
	MemLimitBytes int64
}

var profiles = map[string]profile{
	"fast": {
		Name:     "fast",
		Clients:  20,
		Duration: 5 * time.Second,
		InputHz:  30,
	},
	"standard": {
		Name:     "standard",
		Clients:  100,
		Duration: 20 * time.Second,
		InputHz:  60,
	},
	"stress": {
		Name:          "stress",
		Clients:       500,
		Duration:      60 * time.Second,
		InputHz:       60,
		MaxProcs:      4,
		MemLimitBytes: 2 * gib,
	},
}

type benchConfig struct {
	Profile       string
	URL           string
	Clients       int
	Duration      time.Duration
	InputHz       float64
	TickRate      time.Duration
	MaxProcs      int
	MemLimitBytes int64
	JSONOutput    string
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
	if cfg.MemLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.MemLimitBytes)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	wsURL := cfg.URL
	if wsURL == "" {
		stop, url, err := startServer(ctx, cfg.TickRate)
		if err != nil {
			log.Fatalf("start server: %v", err)
		}
		defer stop()
		wsURL = url
	}

	report, err := run(ctx, cfg, wsURL)
	if err != nil {
		log.Fatal(err)
	}
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

// run connects every client and blocks until ctx is done.
func run(ctx context.Context, cfg benchConfig, wsURL string) (benchReport, error) {
	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samples = append(samples, rtt)
		}
	}()

	var counters benchCounters
	var errCounts benchErrors

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		c, err := newBenchClient(i, cfg, &counters, &errCounts, samplesCh)
		if err != nil {
			return benchReport{}, err
		}
		go func() {
			defer wg.Done()
			if err := c.run(ctx, wsURL); err != nil {
				errCounts.totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	slices.Sort(samples)
	return buildReport(cfg, elapsed, samples, &counters, &errCounts, before, after, beforeMetrics, afterMetrics), nil
}

// startServer runs a netsync host with the demo game on a loopback port.
func startServer(ctx context.Context, tickRate time.Duration) (stop func(), url string, err error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := game.NewRegistry()
	if err != nil {
		return nil, "", err
	}
	channels, chat, err := game.NewChannels()
	if err != nil {
		return nil, "", err
	}
	mgr := server.NewManager(reg, server.DefaultConfig(), logger, server.WithChannels(channels))
	gameCfg := game.DefaultConfig()
	gameCfg.ChatChannel = chat
	g := game.New(gameCfg, mgr, logger)

	wsCfg := wsnet.DefaultConfig()
	wsCfg.CheckOrigin = func(*http.Request) bool { return true }
	hub := wsnet.NewHub(wsCfg, logger)
	h := host.New(mgr, g, hub, host.Options{TickDuration: tickRate, Logger: logger})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	httpServer := &http.Server{Handler: mux}
	go func() {
		_ = httpServer.Serve(ln)
	}()

	hostCtx, cancel := context.WithCancel(ctx)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := h.Run(hostCtx); err != nil {
			log.Printf("host stopped: %v", err)
		}
	}()

	stop = func() {
		cancel()
		<-hostDone
		_ = httpServer.Shutdown(context.Background())
		hub.Close()
	}
	return stop, "ws://" + ln.Addr().String() + "/ws", nil
}

func sampleBuffer(clients int) int {
	if clients < 1 {
		return 1024
	}
	return max(clients*4, 1024)
}

func parseConfig(fs *flag.FlagSet, args []string) (benchConfig, error) {
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	urlFlag := fs.String("url", "", "websocket URL of a running server (default: in-process server)")
	clientsFlag := fs.Int("clients", -1, "number of concurrent websocket clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	hzFlag := fs.Float64("input-hz", -1, "inputs sent per second per client")
	tickFlag := fs.String("tick", "16ms", "tick rate of the in-process server")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:       base.Name,
		URL:           strings.TrimSpace(*urlFlag),
		Clients:       base.Clients,
		Duration:      base.Duration,
		InputHz:       base.InputHz,
		MaxProcs:      base.MaxProcs,
		MemLimitBytes: base.MemLimitBytes,
		JSONOutput:    strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *hzFlag != -1 {
		cfg.InputHz = *hzFlag
	}
	tick, err := time.ParseDuration(*tickFlag)
	if err != nil {
		return benchConfig{}, fmt.Errorf("invalid -tick: %w", err)
	}
	cfg.TickRate = tick
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	// An explicit GOMEMLIMIT wins over the profile; the runtime applies it.
	if os.Getenv("GOMEMLIMIT") != "" {
		cfg.MemLimitBytes = 0
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	switch {
	case cfg.Clients <= 0:
		return benchConfig{}, errors.New("-clients must be > 0")
	case cfg.Duration <= 0:
		return benchConfig{}, errors.New("-duration must be > 0")
	case cfg.InputHz <= 0:
		return benchConfig{}, errors.New("-input-hz must be > 0")
	case cfg.TickRate <= 0:
		return benchConfig{}, errors.New("-tick must be > 0")
	case cfg.MaxProcs < 0:
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	}
	return cfg, nil
}
