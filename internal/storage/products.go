package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osbits/expira/internal/product"
)

// UpsertProduct inserts or updates the user-editable fields of a product.
// Status and lastChecked are left alone on update; only RecordCheck moves them.
func (s *Store) UpsertProduct(ctx context.Context, p product.Product) error {
	if p.ID == "" {
		return errors.New("product id is required")
	}
	fields, err := json.Marshal(p.CustomFields)
	if err != nil {
		return fmt.Errorf("encode custom fields: %w", err)
	}
	var expires any
	if p.ExpiresAt != nil {
		expires = formatTime(*p.ExpiresAt)
	}
	status := p.Status
	if status == "" {
		status = product.StatusActive
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, user_id, name, url, type, custom_fields_json, expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			url = excluded.url,
			type = excluded.type,
			custom_fields_json = excluded.custom_fields_json,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, p.ID, p.UserID, p.Name, p.URL, string(p.Type), string(fields), expires, string(status), now, now)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.ID, err)
	}
	return nil
}

const productColumns = `id, user_id, name, url, type, custom_fields_json, expires_at, status, last_checked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (product.Product, error) {
	var (
		p           product.Product
		typ, status string
		fields      sql.NullString
		expires     sql.NullString
		lastChecked sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.URL, &typ, &fields, &expires, &status, &lastChecked); err != nil {
		return product.Product{}, err
	}
	p.Type = product.Type(typ)
	p.Status = product.Status(status)
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &p.CustomFields); err != nil {
			return product.Product{}, fmt.Errorf("decode custom fields for %q: %w", p.ID, err)
		}
	}
	exp, err := nullableTime(expires)
	if err != nil {
		return product.Product{}, err
	}
	p.ExpiresAt = exp
	checked, err := nullableTime(lastChecked)
	if err != nil {
		return product.Product{}, err
	}
	if checked != nil {
		p.LastChecked = *checked
	}
	return p, nil
}

// GetProduct loads a product by id.
func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Product{}, fmt.Errorf("product %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return product.Product{}, fmt.Errorf("load product %q: %w", id, err)
	}
	return p, nil
}

// ListProducts returns all products ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// StatusCounts returns the number of products in each status.
func (s *Store) StatusCounts(ctx context.Context) (map[product.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM products GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}
	defer rows.Close()

	counts := map[product.Status]int{
		product.StatusActive:  0,
		product.StatusWarning: 0,
		product.StatusExpired: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[product.Status(status)] = n
	}
	return counts, rows.Err()
}

// DeleteProduct removes a product and its check history.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %q: %w", id, ErrNotFound)
	}
	return nil
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
