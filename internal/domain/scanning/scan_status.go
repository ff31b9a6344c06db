package scanning

import (
	"fmt"
)

// ScanStatus represents the lifecycle state of a scan. A scan starts in
// processing and moves exactly once to a terminal status.
type ScanStatus string

const (
	// ScanStatusProcessing indicates evaluation is queued or running.
	ScanStatusProcessing ScanStatus = "processing"

	// ScanStatusCompleted indicates every (chunk, rule) pair was attempted.
	ScanStatusCompleted ScanStatus = "completed"

	// ScanStatusFailed indicates the scan could not be analysed at all.
	ScanStatusFailed ScanStatus = "failed"

	// ScanStatusCancelled indicates the scan was stopped on request.
	ScanStatusCancelled ScanStatus = "cancelled"
)

func (s ScanStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are allowed.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// ParseScanStatus converts a string to a ScanStatus. Unknown input yields
// the empty status.
func ParseScanStatus(s string) ScanStatus {
	switch s {
	case "processing", "PROCESSING":
		return ScanStatusProcessing
	case "completed", "COMPLETED":
		return ScanStatusCompleted
	case "failed", "FAILED":
		return ScanStatusFailed
	case "cancelled", "CANCELLED":
		return ScanStatusCancelled
	default:
		return ""
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s ScanStatus) ValidateTransition(target ScanStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, s, target)
	}
	return nil
}

func (s ScanStatus) isValidTransition(target ScanStatus) bool {
	switch s {
	case ScanStatusProcessing:
		return target == ScanStatusCompleted || target == ScanStatusFailed || target == ScanStatusCancelled
	default:
		// Terminal states - no further transitions allowed.
		return false
	}
}
