package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	config "github.com/hanpama/fedgateway/internal/config"
	engine "github.com/hanpama/fedgateway/internal/engine"
	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	gateway "github.com/hanpama/fedgateway/internal/gateway"
	logging "github.com/hanpama/fedgateway/internal/logging"
	metrics "github.com/hanpama/fedgateway/internal/metrics"
	otel "github.com/hanpama/fedgateway/internal/otel"
	registry "github.com/hanpama/fedgateway/internal/registry"
	server "github.com/hanpama/fedgateway/internal/server"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// listening is called with the bound address once the gateway accepts
// connections.
var listening = func(addr string) {}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP GraphQL gateway",
		Long: `Serve registers the configured services, composes their schemas and serves
GraphQL on /graphql. The composed SDL is served on /schema, service health
on /healthz and Prometheus metrics on /metrics.

Example:
  fedgateway serve --config gateway.yaml --addr :4000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "Override HTTP listen address")
	cmd.Flags().String("log-level", "", "Override log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "Override log format (json, console)")
	cmd.Flags().Bool("pretty", false, "Pretty-print JSON responses")
	return cmd
}

// loadConfig loads the --config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("pretty") {
		cfg.Server.Pretty, _ = flags.GetBool("pretty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	shutdownTracing, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics setup: %w", err)
	}
	defer m.Subscribe()()

	sdl := subgraph.New(subgraph.WithMaxConnsPerEndpoint(cfg.Gateway.MaxConnsPerEndpoint))
	defer sdl.Close()
	reg := registry.New(sdl,
		registry.WithLogger(logger.Named("registry")),
		registry.WithPollInterval(cfg.Gateway.PollInterval),
		registry.WithMaxBackoff(cfg.Gateway.MaxBackoff),
	)
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		if err := reg.Register(ctx, d); err != nil {
			return fmt.Errorf("register %q: %w", d.Name, err)
		}
	}
	// Unreachable services are retried by their pollers.
	if err := reg.Refresh(ctx); err != nil {
		logger.Warn("initial schema refresh incomplete", zap.Error(err))
	}
	reg.Start(ctx)
	defer reg.Stop()

	tr := subgraph.New(
		subgraph.WithProvider(reg),
		subgraph.WithMaxConnsPerEndpoint(cfg.Gateway.MaxConnsPerEndpoint),
		subgraph.WithRequestTimeout(cfg.Gateway.FetchTimeout),
	)
	defer tr.Close()
	eng := engine.New(tr,
		engine.WithMaxConcurrency(cfg.Gateway.MaxConcurrencyPerService),
		engine.WithFetchTimeout(cfg.Gateway.FetchTimeout),
		engine.WithBatchEntities(cfg.Gateway.BatchEntities),
		engine.WithIntrospection(cfg.Gateway.Introspection),
		engine.WithLogger(logger.Named("engine")),
	)
	gw := gateway.New(reg, eng, gateway.WithLogger(logger.Named("gateway")))

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if len(cfg.Server.ForwardHeaders) > 0 {
		sopts = append(sopts, server.WithForwardHeaders(cfg.Server.ForwardHeaders...))
	}
	admin := server.NewAdmin(reg, cfg.Server.Pretty)

	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(gw, sopts...))
	mux.Handle("/schema", admin)
	mux.Handle("/healthz", admin)

	servers := []*http.Server{{Addr: cfg.Server.Addr, Handler: mux}}
	if cfg.Metrics.Addr == "" {
		mux.Handle("/metrics", m.Handler())
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", m.Handler())
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux})
	}

	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, bound := range listeners {
				_ = bound.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		logger.Info("listening", zap.String("addr", ln.Addr().String()))
		listening(ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
