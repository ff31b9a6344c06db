// Package memory provides an in-process scan store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

var _ scanning.ScanRepository = (*ScanStore)(nil)

// ScanStore keeps scans in memory. Stored and returned scans are clones so
// callers never share state with the store.
type ScanStore struct {
	mu    sync.RWMutex
	scans map[uuid.UUID]*scanning.Scan
}

// NewScanStore creates an empty store.
func NewScanStore() *ScanStore {
	return &ScanStore{scans: make(map[uuid.UUID]*scanning.Scan)}
}

// CreateScan inserts a new scan.
func (s *ScanStore) CreateScan(_ context.Context, scan *scanning.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scans[scan.ScanID()]; exists {
		return fmt.Errorf("scan %s already exists", scan.ScanID())
	}
	s.scans[scan.ScanID()] = scan.Clone()
	return nil
}

// UpdateScan replaces a stored scan.
func (s *ScanStore) UpdateScan(_ context.Context, scan *scanning.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scans[scan.ScanID()]; !exists {
		return fmt.Errorf("%w: %s", scanning.ErrScanNotFound, scan.ScanID())
	}
	s.scans[scan.ScanID()] = scan.Clone()
	return nil
}

// GetScan returns a scan by ID.
func (s *ScanStore) GetScan(_ context.Context, scanID uuid.UUID) (*scanning.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scan, ok := s.scans[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scanning.ErrScanNotFound, scanID)
	}
	return scan.Clone(), nil
}

// ListScansByUser returns the user's scans, newest first.
func (s *ScanStore) ListScansByUser(_ context.Context, userID string) ([]*scanning.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*scanning.Scan
	for _, scan := range s.scans {
		if scan.UserID() == userID {
			out = append(out, scan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().After(out[j].CreatedAt())
	})
	return out, nil
}

// Close is a no-op.
func (s *ScanStore) Close() error { return nil }
