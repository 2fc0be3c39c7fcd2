package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tenant mirrors a row of the global public.tenants table.
type Tenant struct {
	ID            uuid.UUID
	Name          string
	Slug          string
	Customer      string
	Cloud         string
	Project       string
	ActiveRegions []string
	IsActive      bool
	CreatedAt     time.Time
}

// CreateTenantParams holds the fields needed to insert a new tenant row.
type CreateTenantParams struct {
	Name          string
	Slug          string
	Customer      string
	Cloud         string
	Project       string
	ActiveRegions []string
}

func (q *Queries) CreateTenant(ctx context.Context, p CreateTenantParams) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		INSERT INTO public.tenants (name, slug, customer, cloud, project, active_regions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING id, name, slug, customer, cloud, project, active_regions, is_active, created_at
	`, p.Name, p.Slug, p.Customer, p.Cloud, p.Project, p.ActiveRegions).Scan(
		&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt,
	)
	if err != nil {
		return Tenant{}, fmt.Errorf("inserting tenant: %w", err)
	}
	return t, nil
}

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		SELECT id, name, slug, customer, cloud, project, active_regions, is_active, created_at
		FROM public.tenants WHERE slug = $1
	`, slug).Scan(&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

func (q *Queries) GetTenantByName(ctx context.Context, name string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		SELECT id, name, slug, customer, cloud, project, active_regions, is_active, created_at
		FROM public.tenants WHERE name = $1
	`, name).Scan(&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// ListTenants returns every active tenant. The job status reconciler
// iterates it once per tick and the cron scheduler once at load.
func (q *Queries) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, slug, customer, cloud, project, active_regions, is_active, created_at
		FROM public.tenants WHERE is_active = true ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTenantsByCustomer returns tenants scoped to a single customer.
func (q *Queries) ListTenantsByCustomer(ctx context.Context, customer string) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, slug, customer, cloud, project, active_regions, is_active, created_at
		FROM public.tenants WHERE customer = $1 ORDER BY name
	`, customer)
	if err != nil {
		return nil, fmt.Errorf("listing tenants for customer: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) SetTenantActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := q.db.Exec(ctx, `UPDATE public.tenants SET is_active = $2 WHERE id = $1`, id, active)
	return err
}

func (q *Queries) UpdateTenantActiveRegions(ctx context.Context, id uuid.UUID, regions []string) error {
	_, err := q.db.Exec(ctx, `UPDATE public.tenants SET active_regions = $2 WHERE id = $1`, id, regions)
	return err
}

func (q *Queries) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM public.tenants WHERE id = $1`, id)
	return err
}
