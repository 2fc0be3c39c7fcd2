package ruleset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// Store provides database operations for rulesets, rules, and rule sources.
// All three live in the public schema: rules are a global catalog, rulesets
// are owned by customers.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a ruleset Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const rulesetColumns = `id, customer, name, version, cloud, rules, licensed, event_driven,
	lm_id, s3_bucket, s3_key, license_keys, description, created_at, versions`

func scanRuleset(row pgx.Row) (*Ruleset, error) {
	var r Ruleset
	err := row.Scan(
		&r.ID, &r.Customer, &r.Name, &r.Version, &r.Cloud, &r.Rules,
		&r.Licensed, &r.EventDriven, &r.LMID, &r.S3Bucket, &r.S3Key,
		&r.LicenseKeys, &r.Description, &r.CreatedAt, &r.Versions,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) scanRulesets(rows pgx.Rows) ([]*Ruleset, error) {
	defer rows.Close()
	var out []*Ruleset
	for rows.Next() {
		r, err := scanRuleset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ruleset row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns a specific (customer, name, version) row, or nil.
func (s *Store) Get(ctx context.Context, customer, name, version string) (*Ruleset, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+rulesetColumns+` FROM public.rulesets
		WHERE customer = $1 AND name = $2 AND version = $3
	`, customer, name, version)
	r, err := scanRuleset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting ruleset %s/%s@%s: %w", customer, name, version, err)
	}
	return r, nil
}

// GetLatest returns the newest version of (customer, name), or nil.
func (s *Store) GetLatest(ctx context.Context, customer, name string) (*Ruleset, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+rulesetColumns+` FROM public.rulesets
		WHERE customer = $1 AND name = $2
	`, customer, name)
	if err != nil {
		return nil, fmt.Errorf("listing ruleset versions: %w", err)
	}
	all, err := s.scanRulesets(rows)
	if err != nil {
		return nil, err
	}
	var latest *Ruleset
	var latestV Version
	for _, r := range all {
		v, err := ParseVersion(r.Version)
		if err != nil {
			continue
		}
		if latest == nil || v.Compare(latestV) > 0 {
			latest, latestV = r, v
		}
	}
	if latest == nil && len(all) > 0 {
		latest = all[len(all)-1]
	}
	return latest, nil
}

// ByLMID returns the licensed ruleset with the given LM id, or nil.
func (s *Store) ByLMID(ctx context.Context, lmID string) (*Ruleset, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+rulesetColumns+` FROM public.rulesets
		WHERE licensed = true AND lm_id = $1
	`, lmID)
	r, err := scanRuleset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting licensed ruleset %s: %w", lmID, err)
	}
	return r, nil
}

// List returns the rulesets of a customer, optionally filtered by cloud and
// the event-driven namespace.
func (s *Store) List(ctx context.Context, customer, cloud string, eventDriven bool) ([]*Ruleset, error) {
	query := `SELECT ` + rulesetColumns + ` FROM public.rulesets WHERE customer = $1 AND event_driven = $2`
	args := []any{customer, eventDriven}
	if cloud != "" {
		query += ` AND cloud = $3`
		args = append(args, cloud)
	}
	query += ` ORDER BY name, created_at`
	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rulesets: %w", err)
	}
	return s.scanRulesets(rows)
}

// Create inserts a new ruleset row.
func (s *Store) Create(ctx context.Context, r *Ruleset) (*Ruleset, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO public.rulesets (customer, name, version, cloud, rules, licensed,
			event_driven, lm_id, s3_bucket, s3_key, license_keys, description, versions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+rulesetColumns,
		r.Customer, r.Name, r.Version, r.Cloud, r.Rules, r.Licensed,
		r.EventDriven, r.LMID, r.S3Bucket, r.S3Key, r.LicenseKeys, r.Description, r.Versions,
	)
	created, err := scanRuleset(row)
	if err != nil {
		return nil, fmt.Errorf("inserting ruleset %s@%s: %w", r.Name, r.Version, err)
	}
	return created, nil
}

// Delete removes a specific version. Returns pgx.ErrNoRows when absent.
func (s *Store) Delete(ctx context.Context, customer, name, version string) error {
	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM public.rulesets WHERE customer = $1 AND name = $2 AND version = $3
	`, customer, name, version)
	if err != nil {
		return fmt.Errorf("deleting ruleset %s@%s: %w", name, version, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteAllVersions removes every version of (customer, name).
func (s *Store) DeleteAllVersions(ctx context.Context, customer, name string) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM public.rulesets WHERE customer = $1 AND name = $2
	`, customer, name)
	if err != nil {
		return 0, fmt.Errorf("deleting ruleset %s: %w", name, err)
	}
	return tag.RowsAffected(), nil
}

// --- rules ---

const ruleColumns = `id, name, customer, cloud, version, resource, description, filters,
	location, commit_hash, updated_date, severity, mitre, events, comment`

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var events []byte
	err := row.Scan(
		&r.ID, &r.Name, &r.Customer, &r.Cloud, &r.Version, &r.Resource,
		&r.Description, &r.Filters, &r.Location, &r.CommitHash, &r.UpdatedDate,
		&r.Severity, &r.Mitre, &events, &r.Comment,
	)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &r.Events); err != nil {
			return nil, fmt.Errorf("unmarshalling rule events: %w", err)
		}
	}
	return &r, nil
}

func (s *Store) scanRules(rows pgx.Rows) ([]*Rule, error) {
	defer rows.Close()
	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRulesByNames returns the latest version of each named rule for a
// customer.
func (s *Store) GetRulesByNames(ctx context.Context, customer string, names []string) ([]*Rule, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT ON (name) `+ruleColumns+` FROM public.rules
		WHERE customer = $1 AND name = ANY($2)
		ORDER BY name, updated_date DESC
	`, customer, names)
	if err != nil {
		return nil, fmt.Errorf("getting rules by names: %w", err)
	}
	return s.scanRules(rows)
}

// ListRules returns the latest version of every rule for (customer, cloud).
func (s *Store) ListRules(ctx context.Context, customer, cloud string) ([]*Rule, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT ON (name) `+ruleColumns+` FROM public.rules
		WHERE customer = $1 AND cloud = $2
		ORDER BY name, updated_date DESC
	`, customer, cloud)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return s.scanRules(rows)
}

// ListRulesByLocation returns the latest rules synced from a git
// project/ref.
func (s *Store) ListRulesByLocation(ctx context.Context, customer, gitProjectID, gitRef string) ([]*Rule, error) {
	prefix := gitProjectID + "#" + gitRef + "#"
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT ON (name) `+ruleColumns+` FROM public.rules
		WHERE customer = $1 AND location LIKE $2 || '%'
		ORDER BY name, updated_date DESC
	`, customer, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing rules by location: %w", err)
	}
	return s.scanRules(rows)
}

// --- rule sources ---

// GetRuleSource returns a rule source by id, or nil.
func (s *Store) GetRuleSource(ctx context.Context, id string) (*RuleSource, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT id, customer, type, git_project_id, git_ref, release_tag,
			commit_hash, synced_at, sync_status
		FROM public.rule_sources WHERE id = $1
	`, id)
	var rs RuleSource
	err := row.Scan(&rs.ID, &rs.Customer, &rs.Type, &rs.GitProjectID, &rs.GitRef,
		&rs.ReleaseTag, &rs.CommitHash, &rs.SyncedAt, &rs.SyncStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting rule source %s: %w", id, err)
	}
	return &rs, nil
}

// ListRulesBySource returns the latest rules synced from a rule source.
func (s *Store) ListRulesBySource(ctx context.Context, rs *RuleSource) ([]*Rule, error) {
	return s.ListRulesByLocation(ctx, rs.Customer, rs.GitProjectID, rs.GitRef)
}
