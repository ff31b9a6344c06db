package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

func TestScanStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewScanStore()

	scan := scanning.NewScan("user-1", "gdpr", "GDPR", "policy.md")
	require.NoError(t, s.CreateScan(ctx, scan))
	assert.Error(t, s.CreateScan(ctx, scan), "duplicate insert")

	got, err := s.GetScan(ctx, scan.ScanID())
	require.NoError(t, err)
	assert.Equal(t, scan.ScanID(), got.ScanID())
	assert.Equal(t, scanning.ScanStatusProcessing, got.Status())

	_, err = s.GetScan(ctx, uuid.New())
	assert.ErrorIs(t, err, scanning.ErrScanNotFound)
}

func TestScanStore_UpdateScan(t *testing.T) {
	ctx := context.Background()
	s := NewScanStore()

	scan := scanning.NewScan("user-1", "gdpr", "GDPR", "policy.md")
	require.NoError(t, s.CreateScan(ctx, scan))

	rule := rules.Rule{ID: "art-32", FrameworkID: "gdpr", Requirement: "Encrypt."}
	f := scanning.NewFinding(scan.ScanID(), rule, 1, "plain text", scanning.Gap(scanning.SeverityHigh, "Encrypt it."))
	require.NoError(t, scan.Complete([]scanning.Finding{f}))
	require.NoError(t, s.UpdateScan(ctx, scan))

	got, err := s.GetScan(ctx, scan.ScanID())
	require.NoError(t, err)
	assert.Equal(t, scanning.ScanStatusCompleted, got.Status())
	assert.Equal(t, 1, got.FindingsCount())

	unknown := scanning.NewScan("user-1", "gdpr", "GDPR", "other.md")
	assert.ErrorIs(t, s.UpdateScan(ctx, unknown), scanning.ErrScanNotFound)
}

func TestScanStore_IsolatedFromCaller(t *testing.T) {
	ctx := context.Background()
	s := NewScanStore()

	scan := scanning.NewScan("user-1", "gdpr", "GDPR", "policy.md")
	require.NoError(t, s.CreateScan(ctx, scan))
	require.NoError(t, scan.Fail("boom"))

	got, err := s.GetScan(ctx, scan.ScanID())
	require.NoError(t, err)
	assert.Equal(t, scanning.ScanStatusProcessing, got.Status())
}

func TestScanStore_ListScansByUser(t *testing.T) {
	ctx := context.Background()
	s := NewScanStore()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		scan := scanning.ReconstructScan(
			uuid.New(), "user-1", "gdpr", "GDPR", "doc.md",
			scanning.ScanStatusProcessing, nil, "",
			scanning.ReconstructTimeline(base.Add(time.Duration(i)*time.Minute), time.Time{}),
		)
		ids = append(ids, scan.ScanID())
		require.NoError(t, s.CreateScan(ctx, scan))
	}
	require.NoError(t, s.CreateScan(ctx, scanning.NewScan("user-2", "gdpr", "GDPR", "doc.md")))

	scans, err := s.ListScansByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, scans, 3)
	assert.Equal(t, ids[2], scans[0].ScanID())
	assert.Equal(t, ids[1], scans[1].ScanID())
	assert.Equal(t, ids[0], scans[2].ScanID())

	none, err := s.ListScansByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
