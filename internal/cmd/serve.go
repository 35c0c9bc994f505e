package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/chathub/internal/api"
	"github.com/felixgeelhaar/chathub/internal/auth"
	"github.com/felixgeelhaar/chathub/internal/config"
	"github.com/felixgeelhaar/chathub/internal/health"
	"github.com/felixgeelhaar/chathub/internal/kv"
	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/metrics"
	"github.com/felixgeelhaar/chathub/internal/server"
	"github.com/felixgeelhaar/chathub/internal/telemetry"
	"github.com/felixgeelhaar/chathub/internal/version"
)

// janitorInterval is how often the in-memory store evicts expired keys.
const janitorInterval = time.Minute

type serveOptions struct {
	host    string
	port    int
	kvURL   string
	metrics bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP server for the auth API.

Besides the /api routes the server provides:
  /health/live    - Liveness probe (process alive and responsive)
  /health/ready   - Readiness probe (degraded while the KV remote is down)
  /health/startup - Startup probe (finished initialization)
  /healthz        - Backward-compatible readiness endpoint
  /metrics        - Prometheus metrics, unless disabled

Set tracing.enabled (or CHATHUB_TRACING_ENABLED) and an OTLP/HTTP endpoint
to export spans for requests, auth operations and KV commands.

The server drains connections on SIGTERM or SIGINT.

Example:
  # Start on the default port 3001 with a local store
  chathub serve

  # Use a Redis backend
  chathub serve --kv-url redis://localhost:6379/0

  # Start on a custom port without metrics
  chathub serve --port 8080 --metrics=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}

			logger := log.New(cfg.LogOptions(version.Version))
			log.SetDefaultLogger(logger)

			shutdownTracing, err := telemetry.InitProvider(cmd.Context(), cfg.TelemetryOptions(version.Version))
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("tracing shutdown failed", "error", err.Error())
				}
			}()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ln, err := net.Listen("tcp", a.server.Addr())
			if err != nil {
				return fmt.Errorf("listen on %s: %w", a.server.Addr(), err)
			}
			a.banner(cmd.OutOrStdout(), ln.Addr().String())
			return a.run(cmd.Context(), ln)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "address to bind to (default all interfaces)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "port to listen on (default 3001 or $PORT)")
	cmd.Flags().StringVar(&opts.kvURL, "kv-url", "", "KV backend: an HTTP command endpoint or redis:// URL")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", true, "serve Prometheus metrics at /metrics")
	return cmd
}

// apply overrides cfg with the flags that were set explicitly.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("kv-url") {
		cfg.KV.URL = o.kvURL
	}
	if flags.Changed("metrics") {
		cfg.Server.Metrics = o.metrics
	}
	cfg.Normalize()
	return cfg.Validate()
}

// app is a fully wired server.
type app struct {
	logger *log.Logger
	store  *kv.Adapter
	server *server.Server
}

func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Server.Metrics {
		reg, rm := metrics.NewRegistry()
		m = rm
		metricsHandler = metrics.HandlerFor(reg)
	}

	store, err := kv.Open(cfg.KVOptions(), logger, m)
	if err != nil {
		return nil, err
	}

	svc := auth.NewService(auth.NewRepository(store, nil), cfg.AuthOptions(), logger, m)
	handler := api.New(api.Options{
		Service: svc,
		KVMode:  string(store.Mode()),
		Logger:  logger,
		Metrics: m,
	})

	pm := health.NewProbeManager(version.Version)
	pm.AddChecker(health.NewKVChecker(store))

	srv := server.NewServer(pm, server.Config{
		Address:         cfg.Addr(),
		API:             handler.Router(),
		Metrics:         metricsHandler,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	})

	return &app{logger: logger, store: store, server: srv}, nil
}

func (a *app) banner(w io.Writer, addr string) {
	fmt.Fprintf(w, "chathub %s\n", version.GetInfo().Short())
	fmt.Fprintf(w, "Listening on: http://%s (kv: %s)\n\n", addr, a.store.Mode())
	fmt.Fprintf(w, "Health Endpoints:\n")
	fmt.Fprintf(w, "  Liveness:  http://%s/health/live\n", addr)
	fmt.Fprintf(w, "  Readiness: http://%s/health/ready\n", addr)
	fmt.Fprintf(w, "  Startup:   http://%s/health/startup\n\n", addr)
	fmt.Fprintf(w, "Press Ctrl+C to stop the server\n\n")
}

// run serves on ln until ctx is canceled, then shuts down gracefully.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ms, ok := a.store.Local().(*kv.MemoryStore); ok {
		go ms.Run(ctx, janitorInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Serve(ln)
	}()
	a.logger.Info("server started", "addr", ln.Addr().String(), "kv_mode", string(a.store.Mode()))

	select {
	case err := <-serverErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	if err := a.server.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	<-serverErr
	a.logger.Info("server stopped")
	return nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("kv close failed", "error", err.Error())
	}
}
