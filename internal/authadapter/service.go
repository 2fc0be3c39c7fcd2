package authadapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruleengine/controlplane/internal/auth"
	"github.com/ruleengine/controlplane/internal/db"
)

// Adapter is the full auth.Storage implementation for this service: the
// shared BaseAdapter plus the service-specific tenant, API key, and OIDC
// user queries.
type Adapter struct {
	BaseAdapter
	pool *pgxpool.Pool
}

var _ auth.Storage = (*Adapter)(nil)

// New creates the auth storage adapter.
func New(pool *pgxpool.Pool) *Adapter {
	a := &Adapter{pool: pool}
	a.BaseAdapter = BaseAdapter{Pool: pool, TQ: a}
	return a
}

// GetTenantBySlug implements TenantQuerier and auth.Storage.
func (a *Adapter) GetTenantBySlug(ctx context.Context, slug string) (*auth.TenantResult, error) {
	t, err := db.New(a.pool).GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &auth.TenantResult{ID: t.ID, Slug: t.Slug}, nil
}

// GetTenant looks up a tenant by id.
func (a *Adapter) GetTenant(ctx context.Context, tenantID uuid.UUID) (*auth.TenantResult, error) {
	var t auth.TenantResult
	err := a.pool.QueryRow(ctx, `SELECT id, slug FROM public.tenants WHERE id = $1`, tenantID).Scan(&t.ID, &t.Slug)
	if err != nil {
		return nil, fmt.Errorf("getting tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

// ListTenants implements TenantQuerier and auth.Storage.
func (a *Adapter) ListTenants(ctx context.Context) ([]auth.TenantResult, error) {
	tenants, err := db.New(a.pool).ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]auth.TenantResult, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, auth.TenantResult{ID: t.ID, Slug: t.Slug})
	}
	return out, nil
}

// GetAPIKeyByHash resolves an API key by its SHA-256 hash.
func (a *Adapter) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKeyResult, error) {
	var res auth.APIKeyResult
	err := a.pool.QueryRow(ctx, `
		SELECT id, tenant_id, key_prefix, role, scopes, expires_at
		FROM public.api_keys
		WHERE key_hash = $1
	`, hash).Scan(&res.APIKeyID, &res.TenantID, &res.KeyPrefix, &res.Role, &res.Scopes, &res.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateAPIKeyLastUsed stamps an API key's last use.
func (a *Adapter) UpdateAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := a.pool.Exec(ctx, `UPDATE public.api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	return err
}

// FindOrCreateOIDCUser resolves an OIDC subject to a tenant user, creating
// the row on first login.
func (a *Adapter) FindOrCreateOIDCUser(ctx context.Context, tenantSlug, subject, email, role string) (*auth.UserRow, string, error) {
	t, err := db.New(a.pool).GetTenantBySlug(ctx, tenantSlug)
	if err != nil {
		return nil, "", fmt.Errorf("looking up tenant %s: %w", tenantSlug, err)
	}
	schema := fmt.Sprintf("tenant_%s", t.Slug)

	var row auth.UserRow
	err = a.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, external_id, email, display_name, timezone, role, is_active
		FROM %s.users WHERE external_id = $1 OR email = $2
	`, schema), subject, email).Scan(&row.ID, &row.ExternalID, &row.Email, &row.DisplayName, &row.Timezone, &row.Role, &row.IsActive)
	if err == nil {
		return &row, t.Slug, nil
	}

	err = a.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.users (external_id, email, display_name, role, timezone)
		VALUES ($1, $2, $2, $3, 'UTC')
		RETURNING id, external_id, email, display_name, timezone, role, is_active
	`, schema), subject, email, role).Scan(&row.ID, &row.ExternalID, &row.Email, &row.DisplayName, &row.Timezone, &row.Role, &row.IsActive)
	if err != nil {
		return nil, "", fmt.Errorf("creating OIDC user: %w", err)
	}
	return &row, t.Slug, nil
}
