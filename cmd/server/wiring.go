package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/api/health"
	appScanning "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/config"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/internal/infra/documents/localfs"
	"github.com/ahrav/compliance-armada/internal/infra/documents/objectstore"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/kafka"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/memory"
	redisbus "github.com/ahrav/compliance-armada/internal/infra/eventbus/redis"
	"github.com/ahrav/compliance-armada/internal/infra/inference/gemini"
	"github.com/ahrav/compliance-armada/internal/infra/redaction"
	"github.com/ahrav/compliance-armada/internal/infra/storage"
	rulesMemory "github.com/ahrav/compliance-armada/internal/infra/storage/rules/memory"
	rulesPostgres "github.com/ahrav/compliance-armada/internal/infra/storage/rules/postgres"
	scanMemory "github.com/ahrav/compliance-armada/internal/infra/storage/scanning/memory"
	scanPostgres "github.com/ahrav/compliance-armada/internal/infra/storage/scanning/postgres"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
	"github.com/ahrav/compliance-armada/pkg/common/otel"
)

// frameworkStore is a framework repository that can be loaded from a catalog.
type frameworkStore interface {
	rules.FrameworkRepository
	Seed(ctx context.Context, catalog *rules.Catalog) error
}

type pipeline struct {
	service      *appScanning.ScanService
	orchestrator *appScanning.ScanOrchestrator
	bus          events.EventBus
	checks       map[string]health.Checker
	closers      []func() error
}

func (p *pipeline) close(log *logger.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Error(context.Background(), "shutdown", "status", "closing dependency", "err", err)
		}
	}
}

// buildPipeline constructs the stores, event bus, inference client and
// orchestrator selected by cfg. On error everything already opened is
// closed.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (_ *pipeline, err error) {
	p := &pipeline{checks: make(map[string]health.Checker)}
	defer func() {
		if err != nil {
			p.close(log)
		}
	}()

	catalog, err := loadCatalog(cfg.Rules.CatalogPath)
	if err != nil {
		return nil, err
	}

	// -------------------------------------------------------------------------
	// Storage
	var (
		frameworks frameworkStore
		scans      scanning.ScanRepository
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() error { pool.Close(); return nil })
		p.checks["database"] = pool.Ping

		if err := storage.Migrate(pool); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		frameworks = rulesPostgres.NewStore(pool, tracer)
		scans = scanPostgres.NewScanStore(pool, tracer)
	default:
		frameworks = rulesMemory.NewFrameworkStore()
		scans = scanMemory.NewScanStore()
	}

	if err := frameworks.Seed(ctx, catalog); err != nil {
		return nil, fmt.Errorf("seeding framework catalog: %w", err)
	}
	log.Info(ctx, "startup", "status", "framework catalog loaded", "frameworks", len(catalog.Frameworks))

	documents, err := openDocuments(ctx, cfg.Documents, tracer)
	if err != nil {
		return nil, err
	}

	// -------------------------------------------------------------------------
	// Event bus
	bus, err := openEventBus(ctx, cfg.Events, log, tracer)
	if err != nil {
		return nil, err
	}
	p.bus = bus
	p.closers = append(p.closers, bus.Close)

	// -------------------------------------------------------------------------
	// Evaluation
	scanMetrics, err := appScanning.NewScanMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("creating scan metrics: %w", err)
	}

	inference := gemini.NewClient(gemini.Config{
		Endpoint:          cfg.Inference.Endpoint,
		Model:             cfg.Inference.Model,
		APIKey:            cfg.Inference.APIKey,
		AttemptTimeout:    cfg.Inference.AttemptTimeout,
		MaxRetries:        cfg.Inference.MaxRetries,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		Burst:             cfg.Inference.Burst,
	}, nil, log, tracer)

	var redactor scanning.ExcerptRedactor
	if cfg.Scanning.RedactExcerpts {
		r, err := redaction.NewGitleaksRedactor()
		if err != nil {
			return nil, fmt.Errorf("creating excerpt redactor: %w", err)
		}
		redactor = r
	}

	evaluator := appScanning.NewRuleEvaluator(inference, cfg.Scanning.EvaluationTimeout, log, tracer, scanMetrics)

	p.orchestrator = appScanning.NewScanOrchestrator(
		appScanning.OrchestratorConfig{
			Workers:         cfg.Scanning.Workers,
			PairConcurrency: cfg.Scanning.PairConcurrency,
			QueueSize:       cfg.Scanning.QueueSize,
		},
		frameworks,
		scans,
		documents,
		document.NewParagraphChunker(cfg.Scanning.ChunkWindow),
		evaluator,
		redactor,
		events.NewDomainEventPublisher(bus),
		log,
		tracer,
		scanMetrics,
	)
	p.service = appScanning.NewScanService(frameworks, scans, documents, p.orchestrator, log, tracer)

	return p, nil
}

func loadCatalog(path string) (*rules.Catalog, error) {
	if path == "" {
		catalog, err := rules.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("loading embedded catalog: %w", err)
		}
		return catalog, nil
	}
	catalog, err := rules.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return catalog, nil
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// openDocuments returns nil for the memory backend; uploads then travel
// to the workers inline.
func openDocuments(ctx context.Context, cfg config.DocumentsConfig, tracer trace.Tracer) (document.Store, error) {
	switch cfg.Backend {
	case config.BackendLocalFS:
		store, err := localfs.NewStore(cfg.LocalFS.Root)
		if err != nil {
			return nil, fmt.Errorf("opening local document store: %w", err)
		}
		return store, nil
	case config.BackendMinio:
		store, err := objectstore.NewStore(ctx, objectstore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
			Prefix:    cfg.Minio.Prefix,
		}, tracer)
		if err != nil {
			return nil, fmt.Errorf("opening object document store: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func openEventBus(ctx context.Context, cfg config.EventsConfig, log *logger.Logger, tracer trace.Tracer) (events.EventBus, error) {
	if cfg.Backend == config.BackendMemory || cfg.Backend == "" {
		return memory.NewBus(log), nil
	}

	metrics, err := eventbus.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("creating event bus metrics: %w", err)
	}

	switch cfg.Backend {
	case config.BackendKafka:
		log.Info(ctx, "startup", "status", "connecting to kafka", "brokers", cfg.Kafka.Brokers)
		bus, err := kafka.Connect(ctx, &kafka.Config{
			Brokers:         cfg.Kafka.Brokers,
			ScanEventsTopic: cfg.Kafka.Topic,
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        cfg.Kafka.ClientID,
		}, log, metrics, tracer)
		if err != nil {
			return nil, fmt.Errorf("connecting kafka event bus: %w", err)
		}
		return bus, nil
	case config.BackendRedis:
		client := redisbus.NewClient(redisbus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		bus, err := redisbus.NewEventBus(client, cfg.Redis.Channel, log, metrics, tracer)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return bus, nil
	default:
		return nil, errors.New("unknown events backend " + cfg.Backend)
	}
}
