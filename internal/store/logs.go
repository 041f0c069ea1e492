package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const rowColumns = `id, table_name, table_description, table_date, incubation_profile,
	row_index, product, code, expiration_date, enterobacteriacea, tmc_30,
	yeasts_molds, bacillus, eval_2nd, eval_3rd, eval_4th, stress_test, comments, created_at`

// InsertSheet writes rows under header in a single transaction.
func (s *Store) InsertSheet(ctx context.Context, h Header, rows []Row) (retN int, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO microbiology_logs (
		table_name, table_description, table_date, incubation_profile, row_index,
		product, code, expiration_date, enterobacteriacea, tmc_30, yeasts_molds,
		bacillus, eval_2nd, eval_3rd, eval_4th, stress_test, comments, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	createdAt := s.now()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			h.TableName, h.TableDescription, h.TableDate, h.IncubationProfile, r.RowIndex,
			r.Product, r.Code, nullable(r.ExpirationDate),
			nullable(r.Entero), nullable(r.TMC30), nullable(r.YeastsMolds), nullable(r.Bacillus),
			r.Eval2nd, r.Eval3rd, r.Eval4th, r.StressTest, r.Comments, createdAt,
		); err != nil {
			return 0, fmt.Errorf("insert row %d: %w", r.RowIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rows), nil
}

// UpdateRow overwrites the editable fields of the row with r.ID.
func (s *Store) UpdateRow(ctx context.Context, r Row) error {
	res, err := s.exec(ctx, `UPDATE microbiology_logs SET
		row_index = ?, product = ?, code = ?, expiration_date = ?,
		enterobacteriacea = ?, tmc_30 = ?, yeasts_molds = ?, bacillus = ?,
		eval_2nd = ?, eval_3rd = ?, eval_4th = ?, stress_test = ?, comments = ?
		WHERE id = ?`,
		r.RowIndex, r.Product, r.Code, nullable(r.ExpirationDate),
		nullable(r.Entero), nullable(r.TMC30), nullable(r.YeastsMolds), nullable(r.Bacillus),
		r.Eval2nd, r.Eval3rd, r.Eval4th, r.StressTest, r.Comments, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update row %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row %d: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("row %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

// GetRows loads rows by id. Missing ids are absent from the map.
func (s *Store) GetRows(ctx context.Context, ids []int64) (map[int64]Row, error) {
	out := make(map[int64]Row, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.selectRows(ctx,
		`SELECT `+rowColumns+` FROM microbiology_logs WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// RowsByDate returns the rows of every sheet dated date, optionally
// narrowed by a sheet name substring.
func (s *Store) RowsByDate(ctx context.Context, date, nameLike string) ([]Row, error) {
	q := `SELECT ` + rowColumns + ` FROM microbiology_logs WHERE table_date = ?`
	args := []any{date}
	if nameLike != "" {
		q += ` AND table_name ` + s.like() + ` ? ESCAPE '\'`
		args = append(args, contains(nameLike))
	}
	q += ` ORDER BY table_name, table_date, row_index, id`
	return s.selectRows(ctx, q, args...)
}

// SearchRows matches rows across sheets.
func (s *Store) SearchRows(ctx context.Context, f RowFilter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.TableDate != "" {
		where = append(where, "table_date = ?")
		args = append(args, f.TableDate)
	}
	if f.Product != "" {
		where = append(where, "product "+s.like()+` ? ESCAPE '\'`)
		args = append(args, contains(f.Product))
	}
	if f.Code != "" {
		where = append(where, "code "+s.like()+` ? ESCAPE '\'`)
		args = append(args, contains(f.Code))
	}
	if f.ExpirationDate != "" {
		where = append(where, "expiration_date = ?")
		args = append(args, f.ExpirationDate)
	}
	q := `SELECT ` + rowColumns + ` FROM microbiology_logs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY product, code, row_index, id`
	return s.selectRows(ctx, q, args...)
}

// SearchTables returns rows of the sheets dated date, ordered for grouping.
func (s *Store) SearchTables(ctx context.Context, date, nameLike string) ([]Row, error) {
	q := `SELECT ` + rowColumns + ` FROM microbiology_logs WHERE table_date = ?`
	args := []any{date}
	if nameLike != "" {
		q += ` AND table_name ` + s.like() + ` ? ESCAPE '\'`
		args = append(args, contains(nameLike))
	}
	q += ` ORDER BY table_name, row_index, id`
	return s.selectRows(ctx, q, args...)
}

// RowsForStatistics returns rows ordered by product then date.
func (s *Store) RowsForStatistics(ctx context.Context, f StatsFilter) ([]Row, error) {
	q := `SELECT ` + rowColumns + ` FROM microbiology_logs WHERE 1=1`
	var args []any
	if f.Product != "" {
		q += ` AND product ` + s.like() + ` ? ESCAPE '\'`
		args = append(args, contains(f.Product))
	}
	if f.From != "" {
		q += ` AND table_date >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		q += ` AND table_date <= ?`
		args = append(args, f.To)
	}
	q += ` ORDER BY product, table_date, row_index, id`
	return s.selectRows(ctx, q, args...)
}

// RecentSheets returns the newest n sheets by date.
func (s *Store) RecentSheets(ctx context.Context, n int) ([]SheetSummary, error) {
	rows, err := s.query(ctx, `SELECT table_name, table_date, table_description, COUNT(*)
		FROM microbiology_logs
		GROUP BY table_name, table_date, table_description
		ORDER BY table_date DESC, table_name ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent sheets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SheetSummary
	for rows.Next() {
		var sm SheetSummary
		if err := rows.Scan(&sm.TableName, &sm.TableDate, &sm.TableDescription, &sm.Rows); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// CalendarSheets returns every sheet that declares an incubation profile.
func (s *Store) CalendarSheets(ctx context.Context) ([]CalendarSheet, error) {
	rows, err := s.query(ctx, `SELECT table_name, table_date, table_description,
			incubation_profile, MIN(created_at)
		FROM microbiology_logs
		WHERE incubation_profile <> ''
		GROUP BY table_name, table_date, table_description, incubation_profile
		ORDER BY table_date, table_name`)
	if err != nil {
		return nil, fmt.Errorf("calendar sheets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CalendarSheet
	for rows.Next() {
		var c CalendarSheet
		var created sql.NullString
		if err := rows.Scan(&c.TableName, &c.TableDate, &c.TableDescription, &c.IncubationProfile, &created); err != nil {
			return nil, fmt.Errorf("scan calendar sheet: %w", err)
		}
		c.CreatedAt = created.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountRows counts all rows.
func (s *Store) CountRows(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM microbiology_logs`)
}

// CountRowsOnDate counts rows of sheets dated date.
func (s *Store) CountRowsOnDate(ctx context.Context, date string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM microbiology_logs WHERE table_date = ?`, date)
}

// CountRowsSince counts rows of sheets dated on or after date.
func (s *Store) CountRowsSince(ctx context.Context, date string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM microbiology_logs WHERE table_date >= ?`, date)
}

// CountDistinctProducts counts non-empty product names.
func (s *Store) CountDistinctProducts(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT product) FROM microbiology_logs WHERE product <> ''`)
}

// AnalyteValuesSince returns the flagged analytes of rows dated on or after date.
func (s *Store) AnalyteValuesSince(ctx context.Context, date string) ([]AnalyteValues, error) {
	rows, err := s.query(ctx, `SELECT enterobacteriacea, yeasts_molds, bacillus
		FROM microbiology_logs WHERE table_date >= ?`, date)
	if err != nil {
		return nil, fmt.Errorf("analyte values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AnalyteValues
	for rows.Next() {
		var e, y, b sql.NullString
		if err := rows.Scan(&e, &y, &b); err != nil {
			return nil, fmt.Errorf("scan analytes: %w", err)
		}
		out = append(out, AnalyteValues{Entero: ptr(e), YeastsMolds: ptr(y), Bacillus: ptr(b)})
	}
	return out, rows.Err()
}

func (s *Store) selectRows(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	var (
		r                    Row
		exp, ent, tmc, ym, b sql.NullString
		created              string
	)
	if err := rows.Scan(
		&r.ID, &r.TableName, &r.TableDescription, &r.TableDate, &r.IncubationProfile,
		&r.RowIndex, &r.Product, &r.Code, &exp, &ent, &tmc, &ym, &b,
		&r.Eval2nd, &r.Eval3rd, &r.Eval4th, &r.StressTest, &r.Comments, &created,
	); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}
	r.ExpirationDate, r.Entero, r.TMC30, r.YeastsMolds, r.Bacillus = ptr(exp), ptr(ent), ptr(tmc), ptr(ym), ptr(b)
	// A malformed timestamp leaves CreatedAt zero; callers that need it check.
	r.CreatedAt, _ = ParseTime(created)
	return r, nil
}
