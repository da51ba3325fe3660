package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SavePosition stores a named position, replacing any with the same name.
func (r *Repository) SavePosition(ctx context.Context, p Position) error {
	if p.Name == "" {
		return errors.New("Position needs a name")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return r.Transact(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO position(name, x, y, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET x = excluded.x, y = excluded.y`,
			p.Name, p.X, p.Y, millis(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("Failed to save position %q:\n%w", p.Name, err)
		}
		return nil
	})
}

// GetPosition returns the named position, or nil if there is none.
func (r *Repository) GetPosition(ctx context.Context, name string) (*Position, error) {
	row := r.Db.QueryRowContext(ctx, `SELECT name, x, y, created_at FROM position WHERE name = ?`, name)

	var p Position
	var created int64
	if err := row.Scan(&p.Name, &p.X, &p.Y, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to read position:\n%w", err)
	}
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

func (r *Repository) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := r.Db.QueryContext(ctx, `SELECT name, x, y, created_at FROM position ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("Query execution failed:\n%w", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var p Position
		var created int64
		if err := rows.Scan(&p.Name, &p.X, &p.Y, &created); err != nil {
			return nil, fmt.Errorf("Row scanning failed:\n%w", err)
		}
		p.CreatedAt = time.UnixMilli(created)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Error iterating rows:\n%w", err)
	}
	return positions, nil
}

// DeletePosition removes a position, reporting whether it existed.
func (r *Repository) DeletePosition(ctx context.Context, name string) (bool, error) {
	res, err := r.Db.ExecContext(ctx, `DELETE FROM position WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("Failed to delete position %q:\n%w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
