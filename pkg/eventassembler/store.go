package eventassembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/db"
)

// cursorSettingKey is the public settings row the assembler cursor lives in.
const cursorSettingKey = "event_cursor"

// Store provides database operations for events, batch results, and the
// assembler cursor. Everything lives in the public schema: events arrive
// before tenant attribution.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an event Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// PutEvent inserts a raw event batch into a partition.
func (s *Store) PutEvent(ctx context.Context, partition int, vendor string, records []map[string]any) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshalling event records: %w", err)
	}
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO public.events (partition, timestamp, vendor, events)
		VALUES ($1, extract(epoch from clock_timestamp()), $2, $3)
	`, partition, vendor, raw)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetEvents range-queries one partition for events newer than since,
// ordered by timestamp ascending, bounded by limit.
func (s *Store) GetEvents(ctx context.Context, partition int, since float64, limit int) ([]Event, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, partition, timestamp, vendor, events, created_at
		FROM public.events
		WHERE partition = $1 AND timestamp > $2
		ORDER BY timestamp
		LIMIT $3
	`, partition, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events partition %d: %w", partition, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Partition, &e.Timestamp, &e.Vendor, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Events); err != nil {
			return nil, fmt.Errorf("unmarshalling event records: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEventsUntil removes events at or before the cursor across all
// partitions.
func (s *Store) DeleteEventsUntil(ctx context.Context, cursor float64) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM public.events WHERE timestamp <= $1`, cursor)
	if err != nil {
		return 0, fmt.Errorf("deleting processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetCursor reads the persisted assembler cursor; 0 when never set. Loss of
// the cursor is not fatal: the next tick re-reads a small window and the
// dedup step drops repeats.
func (s *Store) GetCursor(ctx context.Context) (float64, error) {
	var raw string
	err := s.dbtx.QueryRow(ctx, `SELECT value FROM public.settings WHERE key = $1`, cursorSettingKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading event cursor: %w", err)
	}
	cursor, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing event cursor %q: %w", raw, err)
	}
	return cursor, nil
}

// SetCursor persists the assembler cursor.
func (s *Store) SetCursor(ctx context.Context, cursor float64) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO public.settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, cursorSettingKey, strconv.FormatFloat(cursor, 'f', -1, 64))
	if err != nil {
		return fmt.Errorf("writing event cursor: %w", err)
	}
	return nil
}

// CreateBatchResults inserts one batch-results row.
func (s *Store) CreateBatchResults(ctx context.Context, br *BatchResults) error {
	rules, err := json.Marshal(br.Rules)
	if err != nil {
		return fmt.Errorf("marshalling batch results rules: %w", err)
	}
	err = s.dbtx.QueryRow(ctx, `
		INSERT INTO public.batch_results (tenant_name, customer, cloud_identifier, rules,
			registration_start, registration_end, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, br.TenantName, br.Customer, br.CloudIdentifier, rules,
		br.RegistrationStart, br.RegistrationEnd, br.SubmittedAt, br.Status,
	).Scan(&br.ID, &br.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting batch results: %w", err)
	}
	return nil
}
