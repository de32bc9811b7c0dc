package repository

import (
	"context"
	"time"

	imodels "github.com/garnizeh/mar/internal/models"
	"github.com/garnizeh/mar/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
// Lookups return (nil, nil) when the row does not exist.

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (string, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.UserWithProfile, error)
	UpdateUserRole(ctx context.Context, id, role string) error
}

type ProfileRepo interface {
	UpsertProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type QuizRepo interface {
	// ListModules returns modules ordered by order_number with their questions
	// and options attached.
	ListModules(ctx context.Context, activeOnly bool) ([]models.Module, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
}

type SubmissionRepo interface {
	CreateSubmission(ctx context.Context, s *models.Submission) (string, error)
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	GetLatestSubmissionByUser(ctx context.Context, userID string) (*models.Submission, error)
	UpdateCurrentModule(ctx context.Context, id string, module int) error
	// MarkCompleted sets completed=true, completed_at and resets webhook_processed.
	MarkCompleted(ctx context.Context, id string, completedAt int64) error
	SetWebhookProcessed(ctx context.Context, id string) error
	// DeleteSubmission removes the submission and everything hanging off it.
	DeleteSubmission(ctx context.Context, id string) (bool, error)
	// ListPendingWebhook lists completed submissions not yet delivered.
	ListPendingWebhook(ctx context.Context, limit int) ([]models.Submission, error)
}

type AnswerRepo interface {
	// UpsertAnswer inserts or replaces the answer for (submission, question).
	UpsertAnswer(ctx context.Context, a *models.Answer) error
	ListAnswers(ctx context.Context, submissionID string) ([]models.Answer, error)
	// ListAnswerDetails joins answers with questions and modules, ordered by
	// module order then question order.
	ListAnswerDetails(ctx context.Context, submissionID string) ([]models.AnswerDetail, error)
}

type CompleteAnswersRepo interface {
	// UpsertCompleteAnswers writes the record, preserving webhook_processed.
	UpsertCompleteAnswers(ctx context.Context, c *models.CompleteAnswers) error
	GetCompleteAnswers(ctx context.Context, submissionID string) (*models.CompleteAnswers, error)
	SetCompleteAnswersProcessed(ctx context.Context, submissionID string) error
}

type ConfigRepo interface {
	GetConfig(ctx context.Context, key string) (*models.SystemConfig, error)
	SetConfig(ctx context.Context, c *models.SystemConfig) error
	ListConfig(ctx context.Context) ([]models.SystemConfig, error)
}

type AuditRepo interface {
	LogAdminAction(ctx context.Context, e *models.AuditEntry) (string, error)
	ListAuditEntries(ctx context.Context, limit, offset int) ([]models.AuditEntry, error)
}

type DeliveryRepo interface {
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
	ListDeliveries(ctx context.Context, submissionID string) ([]models.WebhookDelivery, error)
}

type JobRepo interface {
	EnqueueJob(ctx context.Context, j *imodels.BackgroundJob) (string, error)
	// ClaimNextJob atomically moves the next runnable job to running.
	ClaimNextJob(ctx context.Context) (*imodels.BackgroundJob, error)
	UpdateJob(ctx context.Context, j *imodels.BackgroundJob) error
	MoveToDeadLetter(ctx context.Context, j *imodels.BackgroundJob) error
	CountJobs(ctx context.Context, status string) (int, error)
	ListDeadLetter(ctx context.Context, limit int) ([]imodels.DeadLetterJob, error)
}

type RateLimitRepo interface {
	// HitRateLimit increments the fixed-window counter for key and returns the
	// count within the current window and the window start.
	HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)
}

// MaintenanceRepo backs the operator diagnostics.
type MaintenanceRepo interface {
	Ping(ctx context.Context) error
	TableExists(ctx context.Context, name string) (bool, error)
	CountOrphanAnswers(ctx context.Context) (int, error)
	DeleteOrphanAnswers(ctx context.Context) (int, error)
	CountOrphanCompleteAnswers(ctx context.Context) (int, error)
	DeleteOrphanCompleteAnswers(ctx context.Context) (int, error)
	CountPendingWebhook(ctx context.Context) (int, error)
	CountUsersWithMultipleSubmissions(ctx context.Context) (int, error)
	CountCompletedWithoutRecord(ctx context.Context) (int, error)
	CountStaleEmptySubmissions(ctx context.Context, before time.Time) (int, error)
	DeleteStaleEmptySubmissions(ctx context.Context, before time.Time) (int, error)
}

// Repository groups the repositories a service needs.
type Repository struct {
	Users           UserRepo
	Profiles        ProfileRepo
	Quiz            QuizRepo
	Submissions     SubmissionRepo
	Answers         AnswerRepo
	CompleteAnswers CompleteAnswersRepo
	Config          ConfigRepo
	Audit           AuditRepo
	Deliveries      DeliveryRepo
	Jobs            JobRepo
	RateLimits      RateLimitRepo
	Maintenance     MaintenanceRepo
}
