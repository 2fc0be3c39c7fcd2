package scheduledjob

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// Store provides database operations for scheduled jobs. Rows live in the
// tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a scheduled-job Store backed by the given database
// connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const columns = `id, name, customer, tenant_name, type, schedule, description,
	rulesets, regions, enabled, created_at, updated_at`

func scan(row pgx.Row) (*ScheduledJob, error) {
	var s ScheduledJob
	err := row.Scan(&s.ID, &s.Name, &s.Customer, &s.TenantName, &s.Type, &s.Schedule,
		&s.Description, &s.Rulesets, &s.Regions, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a scheduled job definition.
func (st *Store) Create(ctx context.Context, s *ScheduledJob) (*ScheduledJob, error) {
	row := st.dbtx.QueryRow(ctx, `
		INSERT INTO scheduled_jobs (name, customer, tenant_name, type, schedule,
			description, rulesets, regions, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+columns,
		s.Name, s.Customer, s.TenantName, s.Type, s.Schedule,
		s.Description, s.Rulesets, s.Regions, s.Enabled,
	)
	created, err := scan(row)
	if err != nil {
		return nil, fmt.Errorf("inserting scheduled job %s: %w", s.Name, err)
	}
	return created, nil
}

// Get returns a scheduled job by (customer, name), or nil.
func (st *Store) Get(ctx context.Context, customer, name string) (*ScheduledJob, error) {
	row := st.dbtx.QueryRow(ctx, `
		SELECT `+columns+` FROM scheduled_jobs WHERE customer = $1 AND name = $2
	`, customer, name)
	s, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting scheduled job %s: %w", name, err)
	}
	return s, nil
}

// List returns the tenant's scheduled jobs.
func (st *Store) List(ctx context.Context) ([]*ScheduledJob, error) {
	rows, err := st.dbtx.Query(ctx, `SELECT `+columns+` FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduled job row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update writes the mutable fields of a scheduled job.
func (st *Store) Update(ctx context.Context, s *ScheduledJob) (*ScheduledJob, error) {
	row := st.dbtx.QueryRow(ctx, `
		UPDATE scheduled_jobs
		SET schedule = $3, description = $4, enabled = $5, updated_at = now()
		WHERE customer = $1 AND name = $2
		RETURNING `+columns,
		s.Customer, s.Name, s.Schedule, s.Description, s.Enabled,
	)
	updated, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating scheduled job %s: %w", s.Name, err)
	}
	return updated, nil
}

// Delete removes a scheduled job. Returns pgx.ErrNoRows when absent.
func (st *Store) Delete(ctx context.Context, customer, name string) error {
	tag, err := st.dbtx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE customer = $1 AND name = $2`, customer, name)
	if err != nil {
		return fmt.Errorf("deleting scheduled job %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
