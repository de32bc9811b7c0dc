package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/mar/internal/db"
	"github.com/garnizeh/mar/internal/models"
)

// EnqueueJob inserts a job into the jobs table and returns the new ID
func (r *SQLiteRepo) EnqueueJob(ctx context.Context, j *models.BackgroundJob) (string, error) {
	if j == nil {
		return "", fmt.Errorf("job is nil")
	}
	if j.ID == "" {
		j.ID = newID()
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = time.Now()
	}
	ts := now()
	q := `INSERT INTO jobs(id, type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated) VALUES(?,?,?,?,?,?,?,?,?,?)`
	if _, err := r.conn.Exec(ctx, q, j.ID, j.Type, string(j.Payload), models.JobQueued, j.Attempts, j.MaxAttempts, j.Priority, j.ScheduledAt.UTC().UnixMilli(), ts, ts); err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}

	return j.ID, nil
}

// ClaimNextJob fetches the next available job respecting priority and
// schedule and marks it running. A job lost to a concurrent claimer is
// reported as no job.
func (r *SQLiteRepo) ClaimNextJob(ctx context.Context) (*models.BackgroundJob, error) {
	ts := now()
	var job *models.BackgroundJob
	err := r.conn.InTx(ctx, func(tx *db.Tx) error {
		row := tx.QueryRow(ctx, `SELECT id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated
			FROM jobs WHERE (status = 'queued' OR status = 'retry') AND (next_try_at IS NULL OR next_try_at <= ?) AND scheduled_at <= ?
			ORDER BY priority ASC, scheduled_at ASC LIMIT 1`, ts, ts)
		j, err := scanJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		res, err := tx.Exec(ctx, `UPDATE jobs SET status = 'running', updated = ? WHERE id = ? AND status = ?`, ts, j.ID, j.Status)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		j.Status = models.JobRunning
		job = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	return job, nil
}

func scanJob(row rowScanner) (*models.BackgroundJob, error) {
	var (
		j           models.BackgroundJob
		payload     sql.NullString
		scheduledAt int64
		nextTry     sql.NullInt64
		lastError   sql.NullString
		created     int64
		updated     int64
	)
	if err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority, &scheduledAt, &nextTry, &lastError, &created, &updated); err != nil {
		return nil, err
	}
	j.ScheduledAt = time.UnixMilli(scheduledAt)
	j.Created = time.UnixMilli(created)
	j.Updated = time.UnixMilli(updated)
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if nextTry.Valid {
		t := time.UnixMilli(nextTry.Int64)
		j.NextTryAt = &t
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}

	return &j, nil
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *SQLiteRepo) UpdateJob(ctx context.Context, j *models.BackgroundJob) error {
	var nextTry any
	if j.NextTryAt != nil {
		nextTry = j.NextTryAt.UTC().UnixMilli()
	}
	q := `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, updated = ? WHERE id = ?`
	_, err := r.conn.Exec(ctx, q, j.Status, j.Attempts, nextTry, j.LastError, now(), j.ID)

	return err
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *SQLiteRepo) MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error {
	return r.conn.InTx(ctx, func(tx *db.Tx) error {
		insert := `INSERT INTO dead_letter_jobs(id, job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?,?)`
		if _, err := tx.Exec(ctx, insert, newID(), j.ID, j.Type, string(j.Payload), j.Attempts, j.LastError, now()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return err
	})
}

// CountJobs counts jobs with the given status; an empty status counts all jobs.
func (r *SQLiteRepo) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM jobs`).Scan(&n)
	} else {
		err = r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, status).Scan(&n)
	}

	return n, err
}

func (r *SQLiteRepo) ListDeadLetter(ctx context.Context, limit int) ([]models.DeadLetterJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `SELECT id, job_id, type, payload, attempts, last_error, failed_at FROM dead_letter_jobs ORDER BY failed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeadLetterJob
	for rows.Next() {
		var (
			d         models.DeadLetterJob
			payload   sql.NullString
			lastError sql.NullString
			failedAt  int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Attempts, &lastError, &failedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			d.Payload = json.RawMessage(payload.String)
		}
		d.LastError = lastError.String
		d.FailedAt = time.UnixMilli(failedAt)
		out = append(out, d)
	}

	return out, rows.Err()
}
