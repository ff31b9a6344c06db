package scanning

import (
	"context"
	"fmt"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// ScanLifecycleHandler consumes scan status events from the bus and writes
// them to the audit log. Each transition is logged once per delivery.
type ScanLifecycleHandler struct {
	logger *logger.Logger
}

// NewScanLifecycleHandler creates a ScanLifecycleHandler.
func NewScanLifecycleHandler(logger *logger.Logger) *ScanLifecycleHandler {
	return &ScanLifecycleHandler{logger: logger.With("component", "scan_lifecycle")}
}

// SupportedEvents returns every scan lifecycle event type.
func (h *ScanLifecycleHandler) SupportedEvents() []events.EventType {
	return scanning.ScanEventTypes
}

// HandleEvent logs the transition carried by evt and acknowledges it.
func (h *ScanLifecycleHandler) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	e, ok := evt.Payload.(scanning.ScanStatusChangedEvent)
	if !ok {
		err := fmt.Errorf("unexpected payload %T for event type %s", evt.Payload, evt.Type)
		ack(err)
		return err
	}

	args := []any{
		"event_type", evt.Type,
		"scan_id", e.ScanID,
		"user_id", e.UserID,
		"framework_id", e.FrameworkID,
		"status", e.Status,
	}
	switch e.Status {
	case scanning.ScanStatusCompleted:
		args = append(args, "findings_count", e.FindingsCount)
	case scanning.ScanStatusFailed:
		args = append(args, "reason", e.Reason)
	}

	if e.Status == scanning.ScanStatusFailed {
		h.logger.Warn(ctx, "scan status changed", args...)
	} else {
		h.logger.Info(ctx, "scan status changed", args...)
	}
	ack(nil)
	return nil
}
