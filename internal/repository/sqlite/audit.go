package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) LogAdminAction(ctx context.Context, e *models.AuditEntry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("audit entry is nil")
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Details == "" {
		e.Details = "{}"
	}
	e.Created = now()
	_, err := r.conn.Exec(ctx, `INSERT INTO admin_audit_log (id, admin_id, action, target_type, target_id, details, created) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AdminID, e.Action, e.TargetType, e.TargetID, e.Details, e.Created)
	if err != nil {
		return "", err
	}

	return e.ID, nil
}

func (r *SQLiteRepo) ListAuditEntries(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `SELECT id, admin_id, action, target_type, target_id, details, created FROM admin_audit_log ORDER BY created DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.TargetType, &e.TargetID, &e.Details, &e.Created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, rows.Err()
}
