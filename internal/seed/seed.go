// Package seed bootstraps a deployment: the SYSTEM customer, the system
// tenant that hosts operator accounts, and the initial local admin.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// systemTenantSlug is the tenant that hosts operator accounts; local admins
// are tenant-scoped, so even SYSTEM operators live under a tenant row.
const systemTenantSlug = "system"

// Result reports what init produced.
type Result struct {
	SystemCustomer    string
	AdminUsername     string
	GeneratedPassword string // empty when the password came from the caller
}

// Run creates the SYSTEM customer, provisions the system tenant, and
// creates the initial local admin. Idempotent: existing objects are left
// untouched. password may be empty, in which case one is generated and
// returned in the Result.
func Run(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir, systemCustomer, password string, logger *slog.Logger) (*Result, error) {
	q := db.New(pool)

	customer, err := q.CreateCustomer(ctx, systemCustomer, "System", true)
	if err != nil {
		return nil, fmt.Errorf("creating SYSTEM customer: %w", err)
	}
	logger.Info("seed: system customer ensured", "name", customer.Name)

	info, err := ensureSystemTenant(ctx, pool, databaseURL, migrationsDir, systemCustomer, logger)
	if err != nil {
		return nil, err
	}

	res := &Result{SystemCustomer: customer.Name, AdminUsername: "admin"}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM public.local_admins WHERE tenant_id = $1 AND username = 'admin')`,
		info.ID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking for existing admin: %w", err)
	}
	if exists {
		logger.Info("seed: local admin already exists, skipping")
		return res, nil
	}

	if password == "" {
		generated, err := randomPassword(20)
		if err != nil {
			return nil, err
		}
		password = generated
		res.GeneratedPassword = generated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO public.local_admins (tenant_id, username, password_hash, must_change)
		VALUES ($1, 'admin', $2, true)
	`, info.ID, string(hash))
	if err != nil {
		return nil, fmt.Errorf("creating local admin: %w", err)
	}
	logger.Info("seed: local admin created", "username", "admin", "tenant", info.Slug)
	return res, nil
}

// ensureSystemTenant provisions the system tenant if it does not exist yet.
func ensureSystemTenant(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir, systemCustomer string, logger *slog.Logger) (*tenant.Info, error) {
	q := db.New(pool)
	if t, err := q.GetTenantBySlug(ctx, systemTenantSlug); err == nil {
		logger.Info("seed: system tenant already exists, skipping")
		return &tenant.Info{ID: t.ID, Name: t.Name, Slug: t.Slug, Schema: tenant.SchemaName(t.Slug)}, nil
	}

	prov := &tenant.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}
	info, err := prov.Provision(ctx, tenant.ProvisionParams{
		Name:     "System",
		Slug:     systemTenantSlug,
		Customer: systemCustomer,
		Cloud:    "AWS",
		Project:  "-",
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning system tenant: %w", err)
	}
	return info, nil
}

// randomPassword returns n bytes of randomness, base64-encoded.
func randomPassword(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
