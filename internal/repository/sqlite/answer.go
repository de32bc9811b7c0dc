package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) UpsertAnswer(ctx context.Context, a *models.Answer) error {
	if a == nil {
		return fmt.Errorf("answer is nil")
	}
	if a.ID == "" {
		a.ID = newID()
	}
	ts := now()
	a.Created, a.Updated = ts, ts
	_, err := r.conn.Exec(ctx, `INSERT INTO quiz_answers (id, submission_id, question_id, value, created, updated) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (submission_id, question_id) DO UPDATE SET value = excluded.value, updated = excluded.updated`,
		a.ID, a.SubmissionID, a.QuestionID, a.Value, a.Created, a.Updated)
	return err
}

func (r *SQLiteRepo) ListAnswers(ctx context.Context, submissionID string) ([]models.Answer, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, submission_id, question_id, value, created, updated FROM quiz_answers WHERE submission_id = ? ORDER BY created, id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Value, &a.Created, &a.Updated); err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) ListAnswerDetails(ctx context.Context, submissionID string) ([]models.AnswerDetail, error) {
	rows, err := r.conn.Query(ctx, `SELECT q.id, q.text, q.type, q.order_number, m.id, m.title, m.order_number, a.value
		FROM quiz_answers a
		JOIN quiz_questions q ON q.id = a.question_id
		JOIN quiz_modules m ON m.id = q.module_id
		WHERE a.submission_id = ?
		ORDER BY m.order_number, q.order_number, q.id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnswerDetail
	for rows.Next() {
		var d models.AnswerDetail
		if err := rows.Scan(&d.QuestionID, &d.QuestionText, &d.QuestionType, &d.QuestionOrder, &d.ModuleID, &d.ModuleTitle, &d.ModuleOrder, &d.Value); err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}
