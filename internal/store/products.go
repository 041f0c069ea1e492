package store

import (
	"context"
	"fmt"
)

// UpsertProducts replaces cached entries by code in one transaction.
func (s *Store) UpsertProducts(ctx context.Context, products []Product) (retN int, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO products_cache (code, name, mtrl, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name, mtrl = excluded.mtrl, updated_at = excluded.updated_at`))
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	n := 0
	for _, p := range products {
		if p.Code == "" || p.Name == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, p.Code, p.Name, p.Group, now); err != nil {
			return 0, fmt.Errorf("upsert product %q: %w", p.Code, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// ListProducts returns the cache grouped by material then name.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.query(ctx, `SELECT code, name, mtrl, updated_at FROM products_cache ORDER BY mtrl, name, code`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Product
	for rows.Next() {
		var (
			p       Product
			updated string
		)
		if err := rows.Scan(&p.Code, &p.Name, &p.Group, &updated); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.UpdatedAt, _ = ParseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountProducts counts cached products.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM products_cache`)
}
