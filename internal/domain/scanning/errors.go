package scanning

import "errors"

var (
	// ErrScanNotFound is returned when a scan ID is unknown to the store.
	ErrScanNotFound = errors.New("scan not found")

	// ErrInvalidStatusTransition is returned when a lifecycle change would
	// leave a terminal status or skip processing.
	ErrInvalidStatusTransition = errors.New("invalid scan status transition")

	// ErrFindingScanMismatch is returned when completing a scan with a
	// finding that belongs to another scan.
	ErrFindingScanMismatch = errors.New("finding belongs to a different scan")

	// ErrScanNotCompleted is returned when a report is requested for a scan
	// that has not completed.
	ErrScanNotCompleted = errors.New("scan not completed")
)
