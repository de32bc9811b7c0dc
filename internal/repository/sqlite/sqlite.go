package sqlite

import (
	"io"
	"time"

	"log/slog"

	"github.com/garnizeh/mar/internal/db"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/google/uuid"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
// Queries stay portable so the same code runs on PostgreSQL through pgx.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.UserRepo = (*SQLiteRepo)(nil)
var _ repository.ProfileRepo = (*SQLiteRepo)(nil)
var _ repository.QuizRepo = (*SQLiteRepo)(nil)
var _ repository.SubmissionRepo = (*SQLiteRepo)(nil)
var _ repository.AnswerRepo = (*SQLiteRepo)(nil)
var _ repository.CompleteAnswersRepo = (*SQLiteRepo)(nil)
var _ repository.ConfigRepo = (*SQLiteRepo)(nil)
var _ repository.AuditRepo = (*SQLiteRepo)(nil)
var _ repository.DeliveryRepo = (*SQLiteRepo)(nil)
var _ repository.JobRepo = (*SQLiteRepo)(nil)
var _ repository.RateLimitRepo = (*SQLiteRepo)(nil)
var _ repository.MaintenanceRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

// Repository exposes r through every repository interface.
func (r *SQLiteRepo) Repository() *repository.Repository {
	return &repository.Repository{
		Users:           r,
		Profiles:        r,
		Quiz:            r,
		Submissions:     r,
		Answers:         r,
		CompleteAnswers: r,
		Config:          r,
		Audit:           r,
		Deliveries:      r,
		Jobs:            r,
		RateLimits:      r,
		Maintenance:     r,
	}
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

func newID() string {
	return uuid.NewString()
}
