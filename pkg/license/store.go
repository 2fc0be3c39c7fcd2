package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// Store provides database operations for the cached license replica and the
// customers' license applications.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a license Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const licenseColumns = `license_key, customers, ruleset_ids, event_driven_active, expiration, created_at`

func scanLicense(row pgx.Row) (*License, error) {
	var l License
	var customers []byte
	err := row.Scan(&l.LicenseKey, &customers, &l.RulesetIDs, &l.EventDriven.Active, &l.Expiration, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(customers) > 0 {
		if err := json.Unmarshal(customers, &l.Customers); err != nil {
			return nil, fmt.Errorf("unmarshalling license customers: %w", err)
		}
	}
	return &l, nil
}

// Get returns a license by key, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, licenseKey string) (*License, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+licenseColumns+` FROM public.licenses WHERE license_key = $1`, licenseKey)
	l, err := scanLicense(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting license %s: %w", licenseKey, err)
	}
	return l, nil
}

// GetMany returns the licenses for the given keys, skipping missing ones.
func (s *Store) GetMany(ctx context.Context, keys []string) ([]*License, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+licenseColumns+` FROM public.licenses WHERE license_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("listing licenses: %w", err)
	}
	defer rows.Close()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning license row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// List returns every cached license.
func (s *Store) List(ctx context.Context) ([]*License, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+licenseColumns+` FROM public.licenses ORDER BY license_key`)
	if err != nil {
		return nil, fmt.Errorf("listing licenses: %w", err)
	}
	defer rows.Close()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning license row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Upsert writes a license replica row, replacing any previous state for the
// key.
func (s *Store) Upsert(ctx context.Context, l *License) error {
	customers, err := json.Marshal(l.Customers)
	if err != nil {
		return fmt.Errorf("marshalling license customers: %w", err)
	}
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO public.licenses (license_key, customers, ruleset_ids, event_driven_active, expiration)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (license_key) DO UPDATE SET
			customers = EXCLUDED.customers,
			ruleset_ids = EXCLUDED.ruleset_ids,
			event_driven_active = EXCLUDED.event_driven_active,
			expiration = EXCLUDED.expiration
	`, l.LicenseKey, customers, l.RulesetIDs, l.EventDriven.Active, l.Expiration)
	if err != nil {
		return fmt.Errorf("upserting license %s: %w", l.LicenseKey, err)
	}
	return nil
}

// ApplicationMeta maps cloud → license key for one customer's active license
// application.
type ApplicationMeta map[string]string

// ActiveApplicationMeta returns the merged cloud→licenseKey meta of the
// customer's ACTIVE license applications.
func (s *Store) ActiveApplicationMeta(ctx context.Context, customer string) (ApplicationMeta, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT meta FROM public.license_applications
		WHERE customer = $1 AND status = 'ACTIVE'
		ORDER BY created_at
	`, customer)
	if err != nil {
		return nil, fmt.Errorf("listing license applications: %w", err)
	}
	defer rows.Close()

	merged := make(ApplicationMeta)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning application meta: %w", err)
		}
		var meta ApplicationMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("unmarshalling application meta: %w", err)
		}
		for cloud, key := range meta {
			merged[cloud] = key
		}
	}
	return merged, rows.Err()
}

// UpsertApplication writes a license application row for a customer.
func (s *Store) UpsertApplication(ctx context.Context, customer, status string, meta ApplicationMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling application meta: %w", err)
	}
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO public.license_applications (customer, status, meta)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer) DO UPDATE SET status = EXCLUDED.status, meta = EXCLUDED.meta
	`, customer, status, raw)
	if err != nil {
		return fmt.Errorf("upserting license application for %s: %w", customer, err)
	}
	return nil
}
