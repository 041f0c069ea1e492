package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertAudit appends an audit entry.
func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	var recordID sql.NullInt64
	if e.RecordID != nil {
		recordID = sql.NullInt64{Int64: *e.RecordID, Valid: true}
	}
	_, err := s.exec(ctx, `INSERT INTO audit_logs
		(user_id, action, table_name, record_id, old_values, new_values, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Action, e.TableName, recordID,
		jsonText(e.Old), jsonText(e.New), e.IP, e.UserAgent, s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AuditHistory returns the newest entries for one record.
func (s *Store) AuditHistory(ctx context.Context, table string, recordID int64, limit int) ([]AuditRecord, error) {
	rows, err := s.query(ctx, `SELECT a.id, a.user_id, a.action, a.table_name, a.record_id,
			a.old_values, a.new_values, a.ip_address, a.user_agent, a.created_at, u.name
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.table_name = ? AND a.record_id = ?
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?`, table, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditRecord
	for rows.Next() {
		var (
			r                 AuditRecord
			rid               sql.NullInt64
			oldV, newV, uname sql.NullString
			created           string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Action, &r.TableName, &rid,
			&oldV, &newV, &r.IP, &r.UserAgent, &created, &uname); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if rid.Valid {
			v := rid.Int64
			r.RecordID = &v
		}
		if oldV.Valid {
			r.Old = []byte(oldV.String)
		}
		if newV.Valid {
			r.New = []byte(newV.String)
		}
		r.UserName = uname.String
		r.CreatedAt, _ = ParseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastEditors maps each row id to the name of the user behind its most
// recent audit entry.
func (s *Store) LastEditors(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.query(ctx, `SELECT a.record_id, u.name
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.table_name = 'microbiology_logs' AND a.record_id IN (`+placeholders(len(ids))+`)
		ORDER BY a.record_id ASC, a.created_at DESC, a.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("last editors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			name sql.NullString
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan editor: %w", err)
		}
		if _, seen := out[id]; !seen {
			out[id] = name.String
		}
	}
	return out, rows.Err()
}

// TableCreators maps "table_name|table_date" to the user who first created
// that sheet, read from CREATE_LOG entries.
func (s *Store) TableCreators(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT a.new_values, u.name
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.table_name = 'microbiology_logs' AND a.action = 'CREATE_LOG'
		ORDER BY a.created_at ASC, a.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("table creators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var raw, name sql.NullString
		if err := rows.Scan(&raw, &name); err != nil {
			return nil, fmt.Errorf("scan creator: %w", err)
		}
		var payload struct {
			TableName string `json:"table_name"`
			TableDate string `json:"table_date"`
		}
		if !raw.Valid || json.Unmarshal([]byte(raw.String), &payload) != nil {
			continue
		}
		if payload.TableName == "" || payload.TableDate == "" {
			continue
		}
		key := SheetKey(payload.TableName, payload.TableDate)
		if _, seen := out[key]; !seen {
			out[key] = name.String
		}
	}
	return out, rows.Err()
}

// SheetKey identifies a sheet by name and date.
func SheetKey(name, date string) string {
	return name + "|" + date
}

func jsonText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
