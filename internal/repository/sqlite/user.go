package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) CreateUser(ctx context.Context, u *models.User) (string, error) {
	if u == nil {
		return "", fmt.Errorf("user is nil")
	}
	if u.ID == "" {
		u.ID = newID()
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	ts := now()
	_, err := r.conn.Exec(ctx, `INSERT INTO users (id, email, password_hash, role, created, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Role, ts, ts)
	if err != nil {
		return "", err
	}
	u.Created, u.Updated = ts, ts

	return u.ID, nil
}

func (r *SQLiteRepo) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, email, password_hash, role, created, updated FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *SQLiteRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, email, password_hash, role, created, updated FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Created, &u.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &u, nil
}

func (r *SQLiteRepo) ListUsers(ctx context.Context, limit, offset int) ([]models.UserWithProfile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `SELECT u.id, u.email, u.role, u.created, u.updated,
		COALESCE(p.full_name, ''), COALESCE(p.phone, ''), COALESCE(p.company, '')
		FROM users u LEFT JOIN profiles p ON p.user_id = u.id
		ORDER BY u.created DESC, u.id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserWithProfile
	for rows.Next() {
		var u models.UserWithProfile
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.Created, &u.Updated, &u.FullName, &u.Phone, &u.Company); err != nil {
			return nil, err
		}
		out = append(out, u)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) UpdateUserRole(ctx context.Context, id, role string) error {
	_, err := r.conn.Exec(ctx, `UPDATE users SET role = ?, updated = ? WHERE id = ?`, role, now(), id)
	return err
}
