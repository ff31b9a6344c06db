package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
)

const testCatalog = `
frameworks:
  - id: soc2
    name: SOC 2
    rules:
      - id: cc6.1
        citation: CC6.1
        title: Logical access
        requirement: Access to systems is restricted.
  - id: gdpr
    name: GDPR
    rules:
      - id: art-32
        citation: Art. 32
        title: Security of processing
        requirement: Personal data is encrypted.
      - id: art-33
        citation: Art. 33
        title: Breach notification
        requirement: Breaches are reported within 72 hours.
  - id: empty
    name: Empty
`

func seededStore(t *testing.T) *FrameworkStore {
	t.Helper()
	catalog, err := rules.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	s := NewFrameworkStore()
	require.NoError(t, s.Seed(context.Background(), catalog))
	return s
}

func TestFrameworkStore_ListFrameworks(t *testing.T) {
	s := seededStore(t)

	fws, err := s.ListFrameworks(context.Background())
	require.NoError(t, err)
	require.Len(t, fws, 3)
	assert.Equal(t, []string{"empty", "gdpr", "soc2"}, []string{fws[0].ID, fws[1].ID, fws[2].ID})
}

func TestFrameworkStore_GetRulesForFramework(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		frameworkID string
		wantIDs     []string
		wantErr     error
	}{
		{name: "catalog order", frameworkID: "gdpr", wantIDs: []string{"art-32", "art-33"}},
		{name: "no rules", frameworkID: "empty", wantIDs: []string{}},
		{name: "unknown", frameworkID: "pci", wantErr: rules.ErrFrameworkNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := s.GetRulesForFramework(ctx, tt.frameworkID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(rs))
			for _, r := range rs {
				assert.Equal(t, tt.frameworkID, r.FrameworkID)
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFrameworkStore_ReturnsCopies(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	rs, err := s.GetRulesForFramework(ctx, "gdpr")
	require.NoError(t, err)
	rs[0].Requirement = "changed"

	again, err := s.GetRulesForFramework(ctx, "gdpr")
	require.NoError(t, err)
	assert.Equal(t, "Personal data is encrypted.", again[0].Requirement)
}

func TestFrameworkStore_DefaultCatalog(t *testing.T) {
	catalog, err := rules.DefaultCatalog()
	require.NoError(t, err)

	s := NewFrameworkStore()
	require.NoError(t, s.Seed(context.Background(), catalog))

	fw, err := s.GetFramework(context.Background(), "gdpr")
	require.NoError(t, err)
	assert.NotEmpty(t, fw.Name)
}
