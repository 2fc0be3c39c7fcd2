package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// Store provides database operations for jobs. Jobs live in the tenant
// schema, so the store must run against a tenant-scoped connection.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a job Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const jobColumns = `id, tenant_name, customer, regions, rulesets, rules_to_scan, status,
	submitted_at, batch_job_id, credentials_key, affected_license, platform_id,
	reason, expires_at, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.TenantName, &j.Customer, &j.Regions, &j.Rulesets, &j.RulesToScan,
		&j.Status, &j.SubmittedAt, &j.BatchJobID, &j.CredentialsKey,
		&j.AffectedLicense, &j.PlatformID, &j.Reason, &j.ExpiresAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateParams holds the fields set at admission time.
type CreateParams struct {
	TenantName      string
	Customer        string
	Regions         []string
	Rulesets        []string
	RulesToScan     []string
	CredentialsKey  string
	AffectedLicense string
	PlatformID      string
	TTL             time.Duration
}

// Create inserts a new job in PENDING state.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Job, error) {
	var expiresAt *time.Time
	if p.TTL > 0 {
		t := time.Now().UTC().Add(p.TTL)
		expiresAt = &t
	}
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO jobs (tenant_name, customer, regions, rulesets, rules_to_scan,
			status, submitted_at, credentials_key, affected_license, platform_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8, $9, $10)
		RETURNING `+jobColumns,
		p.TenantName, p.Customer, p.Regions, p.Rulesets, p.RulesToScan,
		StatusPending, p.CredentialsKey, p.AffectedLicense, p.PlatformID, expiresAt,
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	return j, nil
}

// Get returns a job by id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return j, nil
}

// ListFilters narrows a job listing.
type ListFilters struct {
	Status string
	Since  *time.Time
	Until  *time.Time
}

// List returns jobs newest-first with offset pagination.
func (s *Store) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	argN := 1
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filters.Status)
		argN++
	}
	if filters.Since != nil {
		query += fmt.Sprintf(" AND submitted_at >= $%d", argN)
		args = append(args, *filters.Since)
		argN++
	}
	if filters.Until != nil {
		query += fmt.Sprintf(" AND submitted_at <= $%d", argN)
		args = append(args, *filters.Until)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, offset)

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListActive returns jobs that have a batch id and are not yet terminal.
func (s *Store) ListActive(ctx context.Context) ([]*Job, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status NOT IN ($1, $2) AND batch_job_id <> ''
		ORDER BY submitted_at
	`, StatusSucceeded, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetBatchJobID records the executor's id after submission.
func (s *Store) SetBatchJobID(ctx context.Context, id uuid.UUID, batchJobID string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE jobs SET batch_job_id = $2 WHERE id = $1`, id, batchJobID)
	if err != nil {
		return fmt.Errorf("recording batch job id: %w", err)
	}
	return nil
}

// SetStatus writes a status transition, with an optional reason.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = $2, reason = CASE WHEN $3 <> '' THEN $3 ELSE reason END
		WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	return nil
}

// DeleteExpired removes jobs past their TTL.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM jobs WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetPlatform returns a platform by its external platform id, or nil.
func (s *Store) GetPlatform(ctx context.Context, platformID string) (*Platform, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT id, platform_id, tenant_name, customer, name, created_at
		FROM public.platforms WHERE platform_id = $1
	`, platformID)
	var p Platform
	err := row.Scan(&p.ID, &p.PlatformID, &p.TenantName, &p.Customer, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting platform %s: %w", platformID, err)
	}
	return &p, nil
}
