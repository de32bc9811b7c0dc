package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if d == nil {
		return fmt.Errorf("delivery is nil")
	}
	if d.ID == "" {
		d.ID = newID()
	}
	d.Created = now()
	_, err := r.conn.Exec(ctx, `INSERT INTO webhook_deliveries (id, submission_id, url, status_code, success, error, created) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubmissionID, d.URL, d.StatusCode, d.Success, d.Error, d.Created)
	return err
}

func (r *SQLiteRepo) ListDeliveries(ctx context.Context, submissionID string) ([]models.WebhookDelivery, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, submission_id, url, status_code, success, error, created FROM webhook_deliveries WHERE submission_id = ? ORDER BY created, id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubmissionID, &d.URL, &d.StatusCode, &d.Success, &d.Error, &d.Created); err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}
