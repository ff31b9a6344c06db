package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ahrav/compliance-armada/internal/api"
	appScanning "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/config"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	eventdispatcher "github.com/ahrav/compliance-armada/internal/infra/event_dispatcher"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
	"github.com/ahrav/compliance-armada/pkg/common/otel"
)

var build = "develop"

const serviceType = "compliance-server"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", os.Getenv("COMPLIANCE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("%s-%s", cfg.ServiceName, hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	lg := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata).
		Tee(otelslog.NewHandler(cfg.ServiceName))

	if err := run(ctx, lg, hostname, cfg); err != nil {
		lg.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string, cfg *config.Config) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	tracer := traceProvider.Tracer(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// Scan pipeline
	log.Info(ctx, "startup", "status", "initializing scan pipeline")

	deps, err := buildPipeline(ctx, cfg, log, tracer)
	if err != nil {
		return err
	}
	defer deps.close(log)

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	apiMetrics, err := api.NewAPIMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	server := api.NewServer(api.Config{
		Build:           build,
		ServiceName:     cfg.ServiceName,
		Addr:            cfg.Web.APIHost,
		ReadTimeout:     cfg.Web.ReadTimeout,
		WriteTimeout:    cfg.Web.WriteTimeout,
		IdleTimeout:     cfg.Web.IdleTimeout,
		ShutdownTimeout: cfg.Web.ShutdownTimeout,
		Limits:          document.Limits{MaxSize: cfg.Web.MaxUploadBytes},
		Service:         deps.service,
		Checks:          deps.checks,
		Metrics:         apiMetrics,
	}, log)

	// -------------------------------------------------------------------------
	// Scan lifecycle consumer
	dispatcher := eventdispatcher.New(tracer, log)
	if err := dispatcher.RegisterHandler(ctx, appScanning.NewScanLifecycleHandler(log)); err != nil {
		return fmt.Errorf("registering lifecycle handler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := deps.bus.Subscribe(gctx, dispatcher.EventTypes(), dispatcher.Dispatch); err != nil {
		return fmt.Errorf("subscribing to scan events: %w", err)
	}

	g.Go(func() error {
		if err := deps.orchestrator.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("orchestrator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if cfg.Web.GRPCHost != "" {
		g.Go(func() error { return serveHealth(gctx, log, cfg.Web.GRPCHost) })
	}

	// -------------------------------------------------------------------------
	// Shutdown
	err = g.Wait()
	log.Info(ctx, "shutdown", "status", "shutdown complete")
	return err
}

// serveHealth exposes the standard gRPC health service until ctx is done.
func serveHealth(ctx context.Context, log *logger.Logger, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "startup", "status", "grpc health server started", "host", addr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc health server: %w", err)
	case <-ctx.Done():
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	}
}
