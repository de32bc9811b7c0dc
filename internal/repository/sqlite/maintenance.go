package sqlite

import (
	"context"
	"time"

	"github.com/garnizeh/mar/internal/db"
)

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

func (r *SQLiteRepo) TableExists(ctx context.Context, name string) (bool, error) {
	q := `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if r.conn.Driver() == db.DriverPgx {
		q = `SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	}
	var n int
	if err := r.conn.QueryRow(ctx, q, name).Scan(&n); err != nil {
		return false, err
	}

	return n > 0, nil
}

const (
	orphanAnswers         = `FROM quiz_answers WHERE submission_id NOT IN (SELECT id FROM quiz_submissions)`
	orphanCompleteAnswers = `FROM quiz_respostas_completas WHERE submission_id NOT IN (SELECT id FROM quiz_submissions)`
	staleEmptySubmissions = `FROM quiz_submissions WHERE completed = FALSE AND created < ? AND id NOT IN (SELECT submission_id FROM quiz_answers)`
)

func (r *SQLiteRepo) count(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(1) `+q, args...).Scan(&n)
	return n, err
}

func (r *SQLiteRepo) delete(ctx context.Context, q string, args ...any) (int, error) {
	res, err := r.conn.Exec(ctx, `DELETE `+q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepo) CountOrphanAnswers(ctx context.Context) (int, error) {
	return r.count(ctx, orphanAnswers)
}

func (r *SQLiteRepo) DeleteOrphanAnswers(ctx context.Context) (int, error) {
	return r.delete(ctx, orphanAnswers)
}

func (r *SQLiteRepo) CountOrphanCompleteAnswers(ctx context.Context) (int, error) {
	return r.count(ctx, orphanCompleteAnswers)
}

func (r *SQLiteRepo) DeleteOrphanCompleteAnswers(ctx context.Context) (int, error) {
	return r.delete(ctx, orphanCompleteAnswers)
}

func (r *SQLiteRepo) CountPendingWebhook(ctx context.Context) (int, error) {
	return r.count(ctx, `FROM quiz_submissions WHERE completed = TRUE AND webhook_processed = FALSE`)
}

func (r *SQLiteRepo) CountUsersWithMultipleSubmissions(ctx context.Context) (int, error) {
	return r.count(ctx, `FROM (SELECT user_id FROM quiz_submissions GROUP BY user_id HAVING COUNT(1) > 1) dup`)
}

func (r *SQLiteRepo) CountCompletedWithoutRecord(ctx context.Context) (int, error) {
	return r.count(ctx, `FROM quiz_submissions s WHERE s.completed = TRUE
		AND NOT EXISTS (SELECT 1 FROM quiz_respostas_completas c WHERE c.submission_id = s.id)`)
}

func (r *SQLiteRepo) CountStaleEmptySubmissions(ctx context.Context, before time.Time) (int, error) {
	return r.count(ctx, staleEmptySubmissions, before.UTC().UnixMilli())
}

func (r *SQLiteRepo) DeleteStaleEmptySubmissions(ctx context.Context, before time.Time) (int, error) {
	return r.delete(ctx, staleEmptySubmissions, before.UTC().UnixMilli())
}
