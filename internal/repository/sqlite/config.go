package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) GetConfig(ctx context.Context, key string) (*models.SystemConfig, error) {
	row := r.conn.QueryRow(ctx, `SELECT key, value, description, updated_by, updated FROM system_config WHERE key = ?`, key)
	var c models.SystemConfig
	if err := row.Scan(&c.Key, &c.Value, &c.Description, &c.UpdatedBy, &c.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &c, nil
}

func (r *SQLiteRepo) SetConfig(ctx context.Context, c *models.SystemConfig) error {
	if c == nil || c.Key == "" {
		return fmt.Errorf("config key is required")
	}
	c.Updated = now()
	_, err := r.conn.Exec(ctx, `INSERT INTO system_config (key, value, description, updated_by, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_by = excluded.updated_by, updated = excluded.updated,
		description = CASE WHEN excluded.description = '' THEN system_config.description ELSE excluded.description END`,
		c.Key, c.Value, c.Description, c.UpdatedBy, c.Updated)
	return err
}

func (r *SQLiteRepo) ListConfig(ctx context.Context) ([]models.SystemConfig, error) {
	rows, err := r.conn.Query(ctx, `SELECT key, value, description, updated_by, updated FROM system_config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SystemConfig
	for rows.Next() {
		var c models.SystemConfig
		if err := rows.Scan(&c.Key, &c.Value, &c.Description, &c.UpdatedBy, &c.Updated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, rows.Err()
}
