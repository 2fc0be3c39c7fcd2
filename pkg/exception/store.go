package exception

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// Store provides database operations for resource exceptions. Exceptions
// live in the tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an exception Store backed by the given database
// connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const exceptionColumns = `id, customer, tenant_name, arn, resource_id, resource_type,
	location, tags_filters, expire_at, created_at`

func scanException(row pgx.Row) (ResourceException, error) {
	var e ResourceException
	err := row.Scan(&e.ID, &e.Customer, &e.TenantName, &e.ARN, &e.ResourceID,
		&e.ResourceType, &e.Location, &e.TagsFilters, &e.ExpireAt, &e.CreatedAt)
	return e, err
}

// ListActive returns the non-expired exceptions of the tenant.
func (s *Store) ListActive(ctx context.Context) ([]ResourceException, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+exceptionColumns+` FROM resource_exceptions
		WHERE expire_at > now() ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing exceptions: %w", err)
	}
	defer rows.Close()

	var out []ResourceException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exception row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create inserts an exception.
func (s *Store) Create(ctx context.Context, e ResourceException) (ResourceException, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO resource_exceptions (customer, tenant_name, arn, resource_id,
			resource_type, location, tags_filters, expire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+exceptionColumns,
		e.Customer, e.TenantName, e.ARN, e.ResourceID,
		e.ResourceType, e.Location, e.TagsFilters, e.ExpireAt,
	)
	created, err := scanException(row)
	if err != nil {
		return ResourceException{}, fmt.Errorf("inserting exception: %w", err)
	}
	return created, nil
}

// Delete removes an exception by id. Returns pgx.ErrNoRows when absent.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM resource_exceptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteExpired removes lapsed exceptions.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM resource_exceptions WHERE expire_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired exceptions: %w", err)
	}
	return tag.RowsAffected(), nil
}
