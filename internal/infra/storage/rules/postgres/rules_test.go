package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/infra/storage"
)

func setupRulesTest(t *testing.T) (context.Context, *store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	db, cleanup := storage.SetupTestContainer(t)
	return context.Background(), NewStore(db, storage.NoOpTracer()), cleanup
}

func TestStore_SeedAndRead(t *testing.T) {
	t.Parallel()
	ctx, s, cleanup := setupRulesTest(t)
	defer cleanup()

	catalog, err := rules.DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, catalog))

	fws, err := s.ListFrameworks(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.FrameworkList(), fws)

	want := catalog.RulesByFramework()["gdpr"]
	got, err := s.GetRulesForFramework(ctx, "gdpr")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, s, cleanup := setupRulesTest(t)
	defer cleanup()

	catalog, err := rules.DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, catalog))
	require.NoError(t, s.Seed(ctx, catalog))

	got, err := s.GetRulesForFramework(ctx, "hipaa")
	require.NoError(t, err)
	assert.Len(t, got, len(catalog.RulesByFramework()["hipaa"]))
}

func TestStore_UnknownFramework(t *testing.T) {
	t.Parallel()
	ctx, s, cleanup := setupRulesTest(t)
	defer cleanup()

	_, err := s.GetFramework(ctx, "pci")
	assert.ErrorIs(t, err, rules.ErrFrameworkNotFound)

	_, err = s.GetRulesForFramework(ctx, "pci")
	assert.ErrorIs(t, err, rules.ErrFrameworkNotFound)
}
