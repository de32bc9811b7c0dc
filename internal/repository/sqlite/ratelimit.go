package sqlite

import (
	"context"
	"time"

	"github.com/garnizeh/mar/internal/db"
)

// HitRateLimit implements a fixed-window counter shared by every instance
// using the same database.
func (r *SQLiteRepo) HitRateLimit(ctx context.Context, key string, window time.Duration, at time.Time) (int, time.Time, error) {
	nowMs := at.UTC().UnixMilli()
	var (
		count int
		start int64
	)
	err := r.conn.InTx(ctx, func(tx *db.Tx) error {
		// a window that has expired restarts at this hit
		_, err := tx.Exec(ctx, `INSERT INTO rate_limits (key, window_start, count) VALUES (?, ?, 1)
			ON CONFLICT (key) DO UPDATE SET
				count = CASE WHEN rate_limits.window_start + ? <= ? THEN 1 ELSE rate_limits.count + 1 END,
				window_start = CASE WHEN rate_limits.window_start + ? <= ? THEN ? ELSE rate_limits.window_start END`,
			key, nowMs, window.Milliseconds(), nowMs, window.Milliseconds(), nowMs, nowMs)
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT count, window_start FROM rate_limits WHERE key = ?`, key).Scan(&count, &start)
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	return count, time.UnixMilli(start), nil
}
