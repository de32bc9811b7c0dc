package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/internal/db"
	"github.com/garnizeh/mar/pkg/models"
)

const submissionColumns = `id, user_id, user_email, user_name, current_module, completed, completed_at, webhook_processed, created, updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		s           models.Submission
		completedAt sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.UserEmail, &s.UserName, &s.CurrentModule, &s.Completed, &completedAt, &s.WebhookProcessed, &s.Created, &s.Updated); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		v := completedAt.Int64
		s.CompletedAt = &v
	}

	return &s, nil
}

func (r *SQLiteRepo) CreateSubmission(ctx context.Context, s *models.Submission) (string, error) {
	if s == nil {
		return "", fmt.Errorf("submission is nil")
	}
	if s.ID == "" {
		s.ID = newID()
	}
	if s.CurrentModule == 0 {
		s.CurrentModule = 1
	}
	ts := now()
	if s.Created == 0 {
		s.Created = ts
	}
	s.Updated = ts
	_, err := r.conn.Exec(ctx, `INSERT INTO quiz_submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.UserEmail, s.UserName, s.CurrentModule, s.Completed, s.CompletedAt, s.WebhookProcessed, s.Created, s.Updated)
	if err != nil {
		return "", err
	}

	return s.ID, nil
}

func (r *SQLiteRepo) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	s, err := scanSubmission(r.conn.QueryRow(ctx, `SELECT `+submissionColumns+` FROM quiz_submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return s, err
}

func (r *SQLiteRepo) GetLatestSubmissionByUser(ctx context.Context, userID string) (*models.Submission, error) {
	s, err := scanSubmission(r.conn.QueryRow(ctx, `SELECT `+submissionColumns+` FROM quiz_submissions WHERE user_id = ? ORDER BY created DESC, id DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return s, err
}

func (r *SQLiteRepo) UpdateCurrentModule(ctx context.Context, id string, module int) error {
	_, err := r.conn.Exec(ctx, `UPDATE quiz_submissions SET current_module = ?, updated = ? WHERE id = ?`, module, now(), id)
	return err
}

func (r *SQLiteRepo) MarkCompleted(ctx context.Context, id string, completedAt int64) error {
	res, err := r.conn.Exec(ctx, `UPDATE quiz_submissions SET completed = TRUE, completed_at = ?, webhook_processed = FALSE, updated = ? WHERE id = ?`,
		completedAt, now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("submission %s not found", id)
	}

	return nil
}

func (r *SQLiteRepo) SetWebhookProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `UPDATE quiz_submissions SET webhook_processed = TRUE, updated = ? WHERE id = ?`, now(), id)
	return err
}

func (r *SQLiteRepo) DeleteSubmission(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.conn.InTx(ctx, func(tx *db.Tx) error {
		// explicit deletes also cover databases restored without foreign keys
		for _, q := range []string{
			`DELETE FROM webhook_deliveries WHERE submission_id = ?`,
			`DELETE FROM quiz_respostas_completas WHERE submission_id = ?`,
			`DELETE FROM quiz_answers WHERE submission_id = ?`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.Exec(ctx, `DELETE FROM quiz_submissions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete submission: %w", err)
	}

	return deleted, nil
}

func (r *SQLiteRepo) ListPendingWebhook(ctx context.Context, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `SELECT `+submissionColumns+` FROM quiz_submissions
		WHERE completed = TRUE AND webhook_processed = FALSE ORDER BY completed_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}

	return out, rows.Err()
}
