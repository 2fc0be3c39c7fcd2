package db

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateAuditLogEntryParams holds the fields of one audit log row. The
// audit_log table lives in the tenant schema, so the caller must run this
// against a tenant-scoped connection.
type CreateAuditLogEntryParams struct {
	UserID     pgtype.UUID
	ApiKeyID   pgtype.UUID
	Action     string
	Resource   string
	ResourceID pgtype.UUID
	Detail     json.RawMessage
	IpAddress  *netip.Addr
	UserAgent  *string
}

func (q *Queries) CreateAuditLogEntry(ctx context.Context, p CreateAuditLogEntryParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (user_id, api_key_id, action, resource, resource_id, detail, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, p.UserID, p.ApiKeyID, p.Action, p.Resource, p.ResourceID, p.Detail, p.IpAddress, p.UserAgent).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting audit log entry: %w", err)
	}
	return id, nil
}

// AuditLogEntry is one persisted audit log row.
type AuditLogEntry struct {
	ID         uuid.UUID       `json:"id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	ApiKeyID   *uuid.UUID      `json:"api_key_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID *uuid.UUID      `json:"resource_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	IPAddress  *netip.Addr     `json:"ip_address,omitempty"`
	UserAgent  *string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListAuditLogParams paginate the audit log listing.
type ListAuditLogParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListAuditLog(ctx context.Context, p ListAuditLogParams) ([]AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, api_key_id, action, resource, resource_id, detail, ip_address, user_agent, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	out := make([]AuditLogEntry, 0)
	for rows.Next() {
		var e AuditLogEntry
		var userID, apiKeyID, resourceID pgtype.UUID
		if err := rows.Scan(&e.ID, &userID, &apiKeyID, &e.Action, &e.Resource, &resourceID, &e.Detail, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit log row: %w", err)
		}
		if userID.Valid {
			id := uuid.UUID(userID.Bytes)
			e.UserID = &id
		}
		if apiKeyID.Valid {
			id := uuid.UUID(apiKeyID.Bytes)
			e.ApiKeyID = &id
		}
		if resourceID.Valid {
			id := uuid.UUID(resourceID.Bytes)
			e.ResourceID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
