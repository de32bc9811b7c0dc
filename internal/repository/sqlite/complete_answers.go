package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) UpsertCompleteAnswers(ctx context.Context, c *models.CompleteAnswers) error {
	if c == nil {
		return fmt.Errorf("complete answers is nil")
	}
	ts := now()
	if c.Created == 0 {
		c.Created = ts
	}
	c.Updated = ts
	_, err := r.conn.Exec(ctx, `INSERT INTO quiz_respostas_completas (submission_id, user_id, respostas, webhook_processed, created, updated) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (submission_id) DO UPDATE SET respostas = excluded.respostas, user_id = excluded.user_id, updated = excluded.updated`,
		c.SubmissionID, c.UserID, c.Respostas, c.WebhookProcessed, c.Created, c.Updated)
	return err
}

func (r *SQLiteRepo) GetCompleteAnswers(ctx context.Context, submissionID string) (*models.CompleteAnswers, error) {
	row := r.conn.QueryRow(ctx, `SELECT submission_id, user_id, respostas, webhook_processed, created, updated FROM quiz_respostas_completas WHERE submission_id = ?`, submissionID)
	var c models.CompleteAnswers
	if err := row.Scan(&c.SubmissionID, &c.UserID, &c.Respostas, &c.WebhookProcessed, &c.Created, &c.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &c, nil
}

func (r *SQLiteRepo) SetCompleteAnswersProcessed(ctx context.Context, submissionID string) error {
	_, err := r.conn.Exec(ctx, `UPDATE quiz_respostas_completas SET webhook_processed = TRUE, updated = ? WHERE submission_id = ?`, now(), submissionID)
	return err
}
