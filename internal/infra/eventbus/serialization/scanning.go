package serialization

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

func registerScanEvents() {
	for _, t := range scanning.ScanEventTypes {
		Register(t, encodeScanStatusChanged, decodeScanStatusChanged(t))
	}
}

func encodeScanStatusChanged(payload any) (*structpb.Struct, error) {
	evt, ok := payload.(scanning.ScanStatusChangedEvent)
	if !ok {
		return nil, fmt.Errorf("encode scan event: payload is %T, not ScanStatusChangedEvent", payload)
	}

	return structpb.NewStruct(map[string]any{
		"scan_id":        evt.ScanID.String(),
		"user_id":        evt.UserID,
		"framework_id":   evt.FrameworkID,
		"status":         evt.Status.String(),
		"findings_count": evt.FindingsCount,
		"reason":         evt.Reason,
		"occurred_at":    evt.OccurredAt().UTC().Format(time.RFC3339Nano),
	})
}

func decodeScanStatusChanged(eventType events.EventType) DecodeFunc {
	return func(s *structpb.Struct) (any, error) {
		f := s.GetFields()

		scanID, err := uuid.Parse(f["scan_id"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode scan event scan_id: %w", err)
		}

		status := scanning.ParseScanStatus(f["status"].GetStringValue())
		if status == "" {
			return nil, fmt.Errorf("decode scan event: unknown status %q", f["status"].GetStringValue())
		}

		occurredAt, err := time.Parse(time.RFC3339Nano, f["occurred_at"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode scan event occurred_at: %w", err)
		}

		return scanning.ReconstructScanStatusChangedEvent(
			eventType,
			occurredAt,
			scanID,
			f["user_id"].GetStringValue(),
			f["framework_id"].GetStringValue(),
			status,
			int(f["findings_count"].GetNumberValue()),
			f["reason"].GetStringValue(),
		), nil
	}
}
