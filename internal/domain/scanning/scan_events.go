package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/events"
)

// Event types relevant to scans.
const (
	EventTypeScanCreated   events.EventType = "ScanCreated"
	EventTypeScanCompleted events.EventType = "ScanCompleted"
	EventTypeScanFailed    events.EventType = "ScanFailed"
	EventTypeScanCancelled events.EventType = "ScanCancelled"
)

// ScanEventTypes lists every scan lifecycle event type.
var ScanEventTypes = []events.EventType{
	EventTypeScanCreated,
	EventTypeScanCompleted,
	EventTypeScanFailed,
	EventTypeScanCancelled,
}

// ScanStatusChangedEvent is raised on every scan lifecycle transition,
// including creation. The concrete EventType tells which transition.
type ScanStatusChangedEvent struct {
	eventType     events.EventType
	occurredAt    time.Time
	ScanID        uuid.UUID
	UserID        string
	FrameworkID   string
	Status        ScanStatus
	FindingsCount int
	Reason        string
}

// NewScanCreatedEvent creates the event raised when a scan is accepted.
func NewScanCreatedEvent(s *Scan) ScanStatusChangedEvent {
	return newStatusEvent(EventTypeScanCreated, s)
}

// NewScanCompletedEvent creates the event raised when a scan completes.
func NewScanCompletedEvent(s *Scan) ScanStatusChangedEvent {
	return newStatusEvent(EventTypeScanCompleted, s)
}

// NewScanFailedEvent creates the event raised when a scan fails.
func NewScanFailedEvent(s *Scan) ScanStatusChangedEvent {
	return newStatusEvent(EventTypeScanFailed, s)
}

// NewScanCancelledEvent creates the event raised when a scan is cancelled.
func NewScanCancelledEvent(s *Scan) ScanStatusChangedEvent {
	return newStatusEvent(EventTypeScanCancelled, s)
}

// ReconstructScanStatusChangedEvent rebuilds an event received from a
// remote bus.
func ReconstructScanStatusChangedEvent(
	eventType events.EventType,
	occurredAt time.Time,
	scanID uuid.UUID,
	userID, frameworkID string,
	status ScanStatus,
	findingsCount int,
	reason string,
) ScanStatusChangedEvent {
	return ScanStatusChangedEvent{
		eventType:     eventType,
		occurredAt:    occurredAt,
		ScanID:        scanID,
		UserID:        userID,
		FrameworkID:   frameworkID,
		Status:        status,
		FindingsCount: findingsCount,
		Reason:        reason,
	}
}

func newStatusEvent(t events.EventType, s *Scan) ScanStatusChangedEvent {
	return ScanStatusChangedEvent{
		eventType:     t,
		occurredAt:    time.Now().UTC(),
		ScanID:        s.ScanID(),
		UserID:        s.UserID(),
		FrameworkID:   s.FrameworkID(),
		Status:        s.Status(),
		FindingsCount: s.FindingsCount(),
		Reason:        s.FailureReason(),
	}
}

func (e ScanStatusChangedEvent) EventType() events.EventType { return e.eventType }
func (e ScanStatusChangedEvent) OccurredAt() time.Time { return e.occurredAt }
