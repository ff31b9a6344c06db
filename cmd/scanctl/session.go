package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"

	appScanning "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/config"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/memory"
	"github.com/ahrav/compliance-armada/internal/infra/inference/gemini"
	"github.com/ahrav/compliance-armada/internal/infra/redaction"
	rulesMemory "github.com/ahrav/compliance-armada/internal/infra/storage/rules/memory"
	scanMemory "github.com/ahrav/compliance-armada/internal/infra/storage/scanning/memory"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
	"github.com/ahrav/compliance-armada/pkg/common/otel"
)

// session runs the scan pipeline in-process on memory stores and an
// in-memory bus.
type session struct {
	service *appScanning.ScanService
	bus     *memory.Bus

	stop func()
	wg   sync.WaitGroup
}

func newSession(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error) {
	catalog, err := loadCatalog(cfg.Rules.CatalogPath)
	if err != nil {
		return nil, err
	}

	frameworks := rulesMemory.NewFrameworkStore()
	if err := frameworks.Seed(ctx, catalog); err != nil {
		return nil, fmt.Errorf("seeding framework catalog: %w", err)
	}
	scans := scanMemory.NewScanStore()
	bus := memory.NewBus(log)

	tracer := noop.NewTracerProvider().Tracer("scanctl")
	metrics, err := appScanning.NewScanMetrics(otel.GetMeterProvider())
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

	orchestrator := appScanning.NewScanOrchestrator(
		appScanning.OrchestratorConfig{
			Workers:         1,
			PairConcurrency: cfg.Scanning.PairConcurrency,
			QueueSize:       1,
		},
		frameworks,
		scans,
		nil,
		document.NewParagraphChunker(cfg.Scanning.ChunkWindow),
		appScanning.NewRuleEvaluator(inference, cfg.Scanning.EvaluationTimeout, log, tracer, metrics),
		redactor,
		events.NewDomainEventPublisher(bus),
		log,
		tracer,
		metrics,
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		service: appScanning.NewScanService(frameworks, scans, nil, orchestrator, log, tracer),
		bus:     bus,
		stop:    cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = orchestrator.Run(runCtx)
	}()
	return s, nil
}

// scanAndWait starts a scan and blocks until it reaches a terminal status.
// When ctx ends first the scan is cancelled and ctx's error returned.
func (s *session) scanAndWait(ctx context.Context, cmd appScanning.StartScanCommand) (uuid.UUID, error) {
	terminal := make(chan scanning.ScanStatusChangedEvent, 1)
	var scanID uuid.UUID
	var idMu sync.Mutex
	pending := make(map[uuid.UUID]scanning.ScanStatusChangedEvent)

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()

	err := s.bus.Subscribe(subCtx,
		[]events.EventType{
			scanning.EventTypeScanCompleted,
			scanning.EventTypeScanFailed,
			scanning.EventTypeScanCancelled,
		},
		func(_ context.Context, env events.EventEnvelope, ack events.AckFunc) error {
			defer ack(nil)
			evt, ok := env.Payload.(scanning.ScanStatusChangedEvent)
			if !ok {
				return nil
			}
			idMu.Lock()
			defer idMu.Unlock()
			// The scan can finish before StartScan returns its ID.
			if scanID == uuid.Nil {
				pending[evt.ScanID] = evt
				return nil
			}
			if evt.ScanID == scanID {
				select {
				case terminal <- evt:
				default:
				}
			}
			return nil
		})
	if err != nil {
		return uuid.Nil, fmt.Errorf("subscribing to scan events: %w", err)
	}

	scan, err := s.service.StartScan(ctx, cmd)
	if err != nil {
		return uuid.Nil, err
	}

	idMu.Lock()
	scanID = scan.ScanID()
	if evt, ok := pending[scanID]; ok {
		terminal <- evt
	}
	idMu.Unlock()

	select {
	case <-terminal:
		return scanID, nil
	case <-ctx.Done():
		cancelErr := s.service.CancelScan(context.WithoutCancel(ctx), scanID)
		return scanID, errors.Join(ctx.Err(), cancelErr)
	}
}

func (s *session) close() error {
	s.stop()
	s.wg.Wait()
	return s.bus.Close()
}

func loadCatalog(path string) (*rules.Catalog, error) {
	if path == "" {
		return rules.DefaultCatalog()
	}
	return rules.LoadCatalog(path)
}
