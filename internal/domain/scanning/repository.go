// Package scanning provides domain types and interfaces for document
// compliance scans: their lifecycle, their findings and the events raised
// as they progress.
package scanning

import (
	"context"

	"github.com/google/uuid"
)

// ScanRepository defines the persistence operations for scans.
type ScanRepository interface {
	// CreateScan inserts a new scan record.
	CreateScan(ctx context.Context, scan *Scan) error

	// UpdateScan persists the status, failure reason, completion time and
	// findings of an existing scan in one atomic step.
	UpdateScan(ctx context.Context, scan *Scan) error

	// GetScan retrieves a scan with its findings, or ErrScanNotFound.
	GetScan(ctx context.Context, scanID uuid.UUID) (*Scan, error)

	// ListScansByUser returns a user's scans, newest first.
	ListScansByUser(ctx context.Context, userID string) ([]*Scan, error)
}
