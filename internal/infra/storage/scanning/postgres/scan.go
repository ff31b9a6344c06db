// Package postgres provides the PostgreSQL-backed scan store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ scanning.ScanRepository = (*scanStore)(nil)

// scanStore implements scanning.ScanRepository using PostgreSQL.
type scanStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewScanStore creates a new PostgreSQL-backed scan repository with tracing.
func NewScanStore(pool *pgxpool.Pool, tracer trace.Tracer) *scanStore {
	return &scanStore{db: pool, tracer: tracer}
}

const createScanQuery = `
INSERT INTO scans (
    id, user_id, framework_id, framework_name, document_name,
    status, failure_reason, findings_count, created_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// CreateScan inserts a new scan record.
func (r *scanStore) CreateScan(ctx context.Context, scan *scanning.Scan) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scan.ScanID().String()),
		attribute.String("framework_id", scan.FrameworkID()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_scan", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, createScanQuery,
			pgtype.UUID{Bytes: scan.ScanID(), Valid: true},
			scan.UserID(),
			scan.FrameworkID(),
			scan.FrameworkName(),
			scan.DocumentName(),
			scan.Status().String(),
			scan.FailureReason(),
			scan.FindingsCount(),
			pgtype.Timestamptz{Time: scan.CreatedAt(), Valid: true},
			completedAt(scan),
		)
		if err != nil {
			return fmt.Errorf("failed to create scan: %w", err)
		}
		return nil
	})
}

const updateScanQuery = `
UPDATE scans
SET status = $2, failure_reason = $3, findings_count = $4, completed_at = $5
WHERE id = $1`

const deleteFindingsQuery = `DELETE FROM findings WHERE scan_id = $1`

const insertFindingQuery = `
INSERT INTO findings (
    id, scan_id, position, framework_id, rule_id, rule_citation, rule_title,
    rule_requirement, severity, excerpt, remediation, paragraph_number
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// UpdateScan writes the scan status and replaces its findings in a single
// transaction so readers never observe a terminal scan without findings.
func (r *scanStore) UpdateScan(ctx context.Context, scan *scanning.Scan) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("scan_id", scan.ScanID().String()),
		attribute.String("status", scan.Status().String()),
		attribute.Int("findings_count", scan.FindingsCount()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_scan", dbAttrs, func(ctx context.Context) error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		id := pgtype.UUID{Bytes: scan.ScanID(), Valid: true}
		tag, err := tx.Exec(ctx, updateScanQuery,
			id,
			scan.Status().String(),
			scan.FailureReason(),
			scan.FindingsCount(),
			completedAt(scan),
		)
		if err != nil {
			return fmt.Errorf("failed to update scan: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", scanning.ErrScanNotFound, scan.ScanID())
		}

		if _, err := tx.Exec(ctx, deleteFindingsQuery, id); err != nil {
			return fmt.Errorf("failed to clear findings: %w", err)
		}

		batch := &pgx.Batch{}
		for i, f := range scan.Findings() {
			rule := f.Rule()
			batch.Queue(insertFindingQuery,
				pgtype.UUID{Bytes: f.FindingID(), Valid: true},
				id,
				i,
				rule.FrameworkID,
				rule.ID,
				rule.Citation,
				rule.Title,
				rule.Requirement,
				f.Severity().String(),
				f.Excerpt(),
				f.Remediation(),
				f.ParagraphNumber(),
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert findings: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit scan update: %w", err)
		}
		return nil
	})
}

const getScanQuery = `
SELECT id, user_id, framework_id, framework_name, document_name,
       status, failure_reason, created_at, completed_at
FROM scans
WHERE id = $1`

const getFindingsQuery = `
SELECT id, framework_id, rule_id, rule_citation, rule_title, rule_requirement,
       severity, excerpt, remediation, paragraph_number
FROM findings
WHERE scan_id = $1
ORDER BY position`

// GetScan retrieves a scan and its findings in discovery order.
func (r *scanStore) GetScan(ctx context.Context, scanID uuid.UUID) (*scanning.Scan, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_id", scanID.String()))

	var scan *scanning.Scan
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_scan", dbAttrs, func(ctx context.Context) error {
		row, err := scanRow(r.db.QueryRow(ctx, getScanQuery, pgtype.UUID{Bytes: scanID, Valid: true}))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", scanning.ErrScanNotFound, scanID)
			}
			return fmt.Errorf("failed to get scan: %w", err)
		}

		findings, err := r.getFindings(ctx, scanID)
		if err != nil {
			return err
		}

		scan = row.toDomain(findings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (r *scanStore) getFindings(ctx context.Context, scanID uuid.UUID) ([]scanning.Finding, error) {
	rows, err := r.db.Query(ctx, getFindingsQuery, pgtype.UUID{Bytes: scanID, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []scanning.Finding
	for rows.Next() {
		var (
			id                             pgtype.UUID
			rule                           rules.Rule
			severity, excerpt, remediation string
			paragraphNumber                int32
		)
		if err := rows.Scan(
			&id,
			&rule.FrameworkID,
			&rule.ID,
			&rule.Citation,
			&rule.Title,
			&rule.Requirement,
			&severity,
			&excerpt,
			&remediation,
			&paragraphNumber,
		); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		findings = append(findings, scanning.ReconstructFinding(
			id.Bytes,
			scanID,
			rule,
			scanning.Severity(severity),
			excerpt,
			remediation,
			int(paragraphNumber),
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	return findings, nil
}

const listScansByUserQuery = `
SELECT id, user_id, framework_id, framework_name, document_name,
       status, failure_reason, created_at, completed_at
FROM scans
WHERE user_id = $1
ORDER BY created_at DESC`

// ListScansByUser returns a user's scans, newest first. Findings are loaded
// per scan.
func (r *scanStore) ListScansByUser(ctx context.Context, userID string) ([]*scanning.Scan, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("user_id", userID))

	var scans []*scanning.Scan
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_scans_by_user", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listScansByUserQuery, userID)
		if err != nil {
			return fmt.Errorf("failed to list scans: %w", err)
		}

		var scanRows []scanRecord
		for rows.Next() {
			rec, err := scanRow(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan scan row: %w", err)
			}
			scanRows = append(scanRows, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read scans: %w", err)
		}

		for _, rec := range scanRows {
			findings, err := r.getFindings(ctx, rec.id)
			if err != nil {
				return err
			}
			scans = append(scans, rec.toDomain(findings))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scans, nil
}

type scanRecord struct {
	id            uuid.UUID
	userID        string
	frameworkID   string
	frameworkName string
	documentName  string
	status        string
	failureReason string
	createdAt     time.Time
	completedAt   pgtype.Timestamptz
}

func scanRow(row pgx.Row) (scanRecord, error) {
	var (
		rec scanRecord
		id  pgtype.UUID
	)
	err := row.Scan(
		&id,
		&rec.userID,
		&rec.frameworkID,
		&rec.frameworkName,
		&rec.documentName,
		&rec.status,
		&rec.failureReason,
		&rec.createdAt,
		&rec.completedAt,
	)
	rec.id = id.Bytes
	return rec, err
}

func (rec scanRecord) toDomain(findings []scanning.Finding) *scanning.Scan {
	var completed time.Time
	if rec.completedAt.Valid {
		completed = rec.completedAt.Time
	}
	return scanning.ReconstructScan(
		rec.id,
		rec.userID,
		rec.frameworkID,
		rec.frameworkName,
		rec.documentName,
		scanning.ParseScanStatus(rec.status),
		findings,
		rec.failureReason,
		scanning.ReconstructTimeline(rec.createdAt, completed),
	)
}

func completedAt(scan *scanning.Scan) pgtype.Timestamptz {
	t, ok := scan.CompletedAt()
	if !ok {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// Close is a no-op; the pool is owned by the caller.
func (r *scanStore) Close() error { return nil }
