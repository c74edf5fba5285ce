package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/campus-reservation/internal/application"
)

// Append inserts one audit entry.
func (s *Store) Append(ctx context.Context, entry application.AuditEntry) error {
	before, err := marshalJSON(entry.Before)
	if err != nil {
		return err
	}
	after, err := marshalJSON(entry.After)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, table_name, action, record_id, actor_id, before_json, after_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Table,
		entry.Action,
		entry.RecordID,
		entry.ActorID,
		before,
		after,
		formatTime(entry.At),
	)
	return mapError(err)
}

// ListAuditEntries returns audit entries matching the filter, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, filter application.AuditFilter) ([]application.AuditEntry, error) {
	query := `
		SELECT id, table_name, action, record_id, actor_id, before_json, after_json, at
		FROM audit_log`
	var conditions []string
	var args []any
	if filter.Table != "" {
		conditions = append(conditions, "table_name = ?")
		args = append(args, filter.Table)
	}
	if filter.RecordID != "" {
		conditions = append(conditions, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []application.AuditEntry
	for rows.Next() {
		var entry application.AuditEntry
		var atStr string
		var before, after sql.NullString
		err := rows.Scan(
			&entry.ID,
			&entry.Table,
			&entry.Action,
			&entry.RecordID,
			&entry.ActorID,
			&before,
			&after,
			&atStr,
		)
		if err != nil {
			return nil, mapError(err)
		}
		if entry.Before, err = unmarshalJSON(before); err != nil {
			return nil, err
		}
		if entry.After, err = unmarshalJSON(after); err != nil {
			return nil, err
		}
		if entry.At, err = parseTime(atStr); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
