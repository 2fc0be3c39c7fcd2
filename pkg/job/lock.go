package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// lockSettingKey is the tenant-settings row the job lock lives in.
const lockSettingKey = "job_lock"

// lockValue is the persisted lock state: the holder job and the
// regions/platforms it claimed.
type lockValue struct {
	JobID   uuid.UUID `json:"job_id"`
	Targets []string  `json:"targets"`
}

// Lock is the per-tenant job lock stored as a tenant-settings row. Only one
// job may hold a given region or platform at a time; acquisition is
// read-modify-write against the settings table.
type Lock struct {
	dbtx db.DBTX
}

// NewLock creates a Lock over a tenant-scoped connection.
func NewLock(dbtx db.DBTX) *Lock {
	return &Lock{dbtx: dbtx}
}

func (l *Lock) read(ctx context.Context) (*lockValue, error) {
	var raw []byte
	err := l.dbtx.QueryRow(ctx, `SELECT value FROM tenant_settings WHERE key = $1`, lockSettingKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading job lock: %w", err)
	}
	var v lockValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshalling job lock: %w", err)
	}
	if v.JobID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

// LockedFor returns the holder job id when any of the requested targets is
// currently claimed, or uuid.Nil otherwise.
func (l *Lock) LockedFor(ctx context.Context, targets []string) (uuid.UUID, error) {
	v, err := l.read(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if v == nil {
		return uuid.Nil, nil
	}
	held := make(map[string]struct{}, len(v.Targets))
	for _, t := range v.Targets {
		held[t] = struct{}{}
	}
	for _, t := range targets {
		if _, ok := held[t]; ok {
			return v.JobID, nil
		}
	}
	return uuid.Nil, nil
}

// Acquire records the job as the lock holder with the given targets,
// replacing whatever the row held before, including another job's claim.
func (l *Lock) Acquire(ctx context.Context, jobID uuid.UUID, targets []string) error {
	raw, err := json.Marshal(lockValue{JobID: jobID, Targets: targets})
	if err != nil {
		return fmt.Errorf("marshalling job lock: %w", err)
	}
	_, err = l.dbtx.Exec(ctx, `
		INSERT INTO tenant_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, lockSettingKey, raw)
	if err != nil {
		return fmt.Errorf("acquiring job lock: %w", err)
	}
	return nil
}

// Release clears the lock if the given job still holds it.
func (l *Lock) Release(ctx context.Context, jobID uuid.UUID) error {
	v, err := l.read(ctx)
	if err != nil {
		return err
	}
	if v == nil || v.JobID != jobID {
		return nil
	}
	_, err = l.dbtx.Exec(ctx, `DELETE FROM tenant_settings WHERE key = $1`, lockSettingKey)
	if err != nil {
		return fmt.Errorf("releasing job lock: %w", err)
	}
	return nil
}
