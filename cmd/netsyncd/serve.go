package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/vango-dev/netsync/internal/capture"
	"github.com/vango-dev/netsync/internal/config"
	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/internal/game"
	"github.com/vango-dev/netsync/internal/host"
	"github.com/vango-dev/netsync/internal/wsnet"
	"github.com/vango-dev/netsync/pkg/middleware"
	"github.com/vango-dev/netsync/pkg/server"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var (
		path   string
		listen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Long: `Run the server until interrupted.

Examples:
  netsyncd serve
  netsyncd serve --config deploy/netsync.json
  netsyncd serve --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New()
			if path != "" {
				var err error
				if cfg, err = config.LoadFile(path); err != nil {
					return err
				}
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, _ := cfg.SlogLevel()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(cfg, logger)
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to netsync.json (defaults apply when omitted)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Override the listen address")

	return cmd
}

// daemon wires the websocket hub, the connection manager, the game and the
// HTTP routes together.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	hub      *wsnet.Hub
	host     *host.Host
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	reg, err := game.NewRegistry()
	if err != nil {
		return nil, err
	}
	channels, chat, err := game.NewChannels()
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	opts := []server.Option{
		server.WithChannels(channels),
		server.WithTracerProvider(otel.GetTracerProvider()),
	}
	if !cfg.Metrics.Disabled {
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, server.WithMetrics(server.NewMetrics(
			server.WithRegistry(promReg),
			server.WithNamespace(cfg.Metrics.Namespace),
		)))
	}
	mgr := server.NewManager(reg, cfg.ServerConfig(), logger, opts...)

	gameCfg := game.DefaultConfig()
	gameCfg.ChatChannel = chat
	g := game.New(gameCfg, mgr, logger)

	wsCfg := wsnet.DefaultConfig()
	wsCfg.MaxMessageSize = int64(cfg.Transport.MaxPacketSize)
	wsCfg.PacketRate = rate.Limit(cfg.Transport.MaxPacketRate)
	wsCfg.PacketBurst = max(1, cfg.Transport.MaxPacketRate/2)
	hub := wsnet.NewHub(wsCfg, logger)

	archive, err := newArchive(cfg.Capture, logger)
	if err != nil {
		return nil, err
	}

	h := host.New(mgr, g, hub, host.Options{
		TickDuration: cfg.TickDuration(),
		Archive:      archive,
		Logger:       logger,
	})

	return &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: promReg,
		hub:      hub,
		host:     h,
	}, nil
}

// newArchive returns nil when captures are disabled.
func newArchive(cfg config.CaptureConfig, logger *slog.Logger) (*capture.Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var store capture.Store
	switch {
	case cfg.Bucket != "":
		store = capture.NewS3Store(capture.NewS3Client(cfg.Region), cfg.Bucket)
	case cfg.Dir != "":
		ds, err := capture.NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, errors.New("E301").Wrap(err)
		}
		store = ds
	default:
		logger.Warn("capture enabled without bucket or dir, captures are discarded")
	}
	return capture.New(store, capture.Config{Prefix: cfg.Prefix}, logger), nil
}

func (d *daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.OpenTelemetry(
		middleware.WithTracerName("netsyncd"),
		middleware.WithRequestFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	))
	if !d.cfg.Metrics.Disabled {
		r.Use(middleware.NewMetrics(
			middleware.WithRegistry(d.registry),
			middleware.WithNamespace(d.cfg.Metrics.Namespace),
		).Handler)
		r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	}

	r.Handle("/ws", d.hub)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.host.Peers())
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.host.Status())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// run serves HTTP and steps the host until ctx is done or either fails.
func (d *daemon) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.Listen,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		d.logger.Info("listening", "addr", d.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- errors.New("E201").Wrap(err)
			cancel()
			return
		}
		httpErr <- nil
	}()

	runErr := d.host.Run(ctx)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown", "error", err)
	}
	d.hub.Close()
	d.host.Wait()

	if runErr != nil {
		return runErr
	}
	return <-httpErr
}
