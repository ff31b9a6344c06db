// Package postgres provides the PostgreSQL-backed framework store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var (
	_ rules.FrameworkRepository = (*store)(nil)
	_ rules.Seeder              = (*store)(nil)
)

type store struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a PostgreSQL-backed framework repository.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *store {
	return &store{db: pool, tracer: tracer}
}

const upsertFrameworkQuery = `
INSERT INTO frameworks (id, name, version, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, version = EXCLUDED.version, description = EXCLUDED.description`

const deleteFrameworkRulesQuery = `DELETE FROM framework_rules WHERE framework_id = $1`

const insertRuleQuery = `
INSERT INTO framework_rules (framework_id, id, position, citation, title, requirement)
VALUES ($1, $2, $3, $4, $5, $6)`

// Seed upserts every catalog framework and replaces its rules. Frameworks
// missing from the catalog are left in place.
func (s *store) Seed(ctx context.Context, catalog *rules.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("failed to seed frameworks: %w", err)
	}

	dbAttrs := append(defaultDBAttributes, attribute.Int("framework_count", len(catalog.Frameworks)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.seed_frameworks", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, fw := range catalog.Frameworks {
				batch.Queue(upsertFrameworkQuery, fw.ID, fw.Name, fw.Version, fw.Description)
				batch.Queue(deleteFrameworkRulesQuery, fw.ID)
				for i, r := range fw.Rules {
					batch.Queue(insertRuleQuery, fw.ID, r.ID, i, r.Citation, r.Title, r.Requirement)
				}
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to write catalog: %w", err)
			}
			return nil
		})
	})
}

const listFrameworksQuery = `SELECT id, name, version, description FROM frameworks ORDER BY id`

// ListFrameworks returns every framework ordered by ID.
func (s *store) ListFrameworks(ctx context.Context) ([]rules.Framework, error) {
	var out []rules.Framework
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_frameworks", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listFrameworksQuery)
		if err != nil {
			return fmt.Errorf("failed to list frameworks: %w", err)
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Framework, error) {
			var fw rules.Framework
			err := row.Scan(&fw.ID, &fw.Name, &fw.Version, &fw.Description)
			return fw, err
		})
		if err != nil {
			return fmt.Errorf("failed to read frameworks: %w", err)
		}
		return nil
	})
	return out, err
}

const getFrameworkQuery = `SELECT id, name, version, description FROM frameworks WHERE id = $1`

// GetFramework returns a framework or rules.ErrFrameworkNotFound.
func (s *store) GetFramework(ctx context.Context, frameworkID string) (rules.Framework, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("framework_id", frameworkID))

	var fw rules.Framework
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_framework", dbAttrs, func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, getFrameworkQuery, frameworkID).
			Scan(&fw.ID, &fw.Name, &fw.Version, &fw.Description)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", rules.ErrFrameworkNotFound, frameworkID)
		}
		if err != nil {
			return fmt.Errorf("failed to get framework: %w", err)
		}
		return nil
	})
	return fw, err
}

const getRulesQuery = `
SELECT framework_id, id, citation, title, requirement
FROM framework_rules
WHERE framework_id = $1
ORDER BY position`

// GetRulesForFramework returns the framework's rules in catalog order.
func (s *store) GetRulesForFramework(ctx context.Context, frameworkID string) ([]rules.Rule, error) {
	if _, err := s.GetFramework(ctx, frameworkID); err != nil {
		return nil, err
	}

	dbAttrs := append(defaultDBAttributes, attribute.String("framework_id", frameworkID))

	out := []rules.Rule{}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_rules_for_framework", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, getRulesQuery, frameworkID)
		if err != nil {
			return fmt.Errorf("failed to query rules: %w", err)
		}
		rs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Rule, error) {
			var r rules.Rule
			err := row.Scan(&r.FrameworkID, &r.ID, &r.Citation, &r.Title, &r.Requirement)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("failed to read rules: %w", err)
		}
		out = append(out, rs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *store) Close() error { return nil }
