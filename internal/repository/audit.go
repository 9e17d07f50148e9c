package repository

import (
	"context"
	"fmt"

	"shed-tournament/internal/model"
)

// AppendAudit inserts an audit entry. Entries are never updated.
func (q *queries) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	const query = `
		INSERT INTO audit_logs (timestamp, text, ref_match_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	if err := q.db.QueryRow(ctx, query, e.Timestamp, e.Text, e.RefMatchID).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditLog retrieves the newest entries first.
func (q *queries) ListAuditLog(ctx context.Context, limit int) ([]*model.AuditLogEntry, error) {
	const query = `
		SELECT id, timestamp, text, ref_match_id
		FROM audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`

	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Text, &e.RefMatchID); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
