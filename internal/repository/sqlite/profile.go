package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}

	p.Updated = now()
	_, err := r.conn.Exec(ctx, `INSERT INTO profiles (user_id, full_name, phone, company, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET full_name = excluded.full_name, phone = excluded.phone, company = excluded.company, updated = excluded.updated`,
		p.UserID, p.FullName, p.Phone, p.Company, p.Updated)
	return err
}

func (r *SQLiteRepo) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := r.conn.QueryRow(ctx, `SELECT user_id, full_name, phone, company, updated FROM profiles WHERE user_id = ?`, userID)
	var p models.Profile
	if err := row.Scan(&p.UserID, &p.FullName, &p.Phone, &p.Company, &p.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &p, nil
}
