package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const userColumns = `id, name, fullname, password_hash, role, active, created_at`

// isUniqueViolation recognises unique-constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// CreateUser inserts u and returns its id. A taken name yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `INSERT INTO users (name, fullname, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		u.Name, u.FullName, u.PasswordHash, u.Role, boolInt(u.Active), s.now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", u.Name, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// UserByName looks a user up by exact login name.
func (s *Store) UserByName(ctx context.Context, name string) (*User, error) {
	return s.oneUser(ctx, `SELECT `+userColumns+` FROM users WHERE name = ?`, name)
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	return s.oneUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) oneUser(ctx context.Context, q string, arg any) (*User, error) {
	rows, err := s.query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select user: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanUser(rows)
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// CountUsers counts accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

// SetUserActive enables or disables sign-in for id.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.updateUser(ctx, `UPDATE users SET active = ? WHERE id = ?`, boolInt(active), id)
}

// SetUserPassword replaces the stored hash for id.
func (s *Store) SetUserPassword(ctx context.Context, id int64, hash string) error {
	return s.updateUser(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

func (s *Store) updateUser(ctx context.Context, q string, val any, id int64) error {
	res, err := s.exec(ctx, q, val, id)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// UserActivity counts sheets created, rows updated and distinct sheets
// touched per user, busiest first.
func (s *Store) UserActivity(ctx context.Context) ([]UserActivity, error) {
	rows, err := s.query(ctx, `SELECT u.id, u.name,
			COALESCE(created.n, 0), COALESCE(updates.n, 0), COALESCE(touched.n, 0)
		FROM users u
		LEFT JOIN (
			SELECT user_id, COUNT(*) AS n FROM audit_logs
			WHERE table_name = 'microbiology_logs' AND action = 'CREATE_LOG'
			GROUP BY user_id
		) created ON created.user_id = u.id
		LEFT JOIN (
			SELECT user_id, COUNT(*) AS n FROM audit_logs
			WHERE table_name = 'microbiology_logs' AND action = 'UPDATE'
			GROUP BY user_id
		) updates ON updates.user_id = u.id
		LEFT JOIN (
			SELECT a.user_id, COUNT(DISTINCT m.table_name || '#' || m.table_date) AS n
			FROM audit_logs a
			JOIN microbiology_logs m ON m.id = a.record_id
			WHERE a.table_name = 'microbiology_logs' AND a.action = 'UPDATE'
			GROUP BY a.user_id
		) touched ON touched.user_id = u.id
		ORDER BY 3 DESC, 4 DESC, u.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UserActivity
	for rows.Next() {
		var a UserActivity
		if err := rows.Scan(&a.UserID, &a.Name, &a.TablesCreated, &a.RowsUpdated, &a.TablesTouched); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*User, error) {
	var (
		u       User
		active  int
		created string
	)
	if err := sc.Scan(&u.ID, &u.Name, &u.FullName, &u.PasswordHash, &u.Role, &active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Active = active != 0
	u.CreatedAt, _ = ParseTime(created)
	return &u, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
