package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
)

var (
	ErrUnknownQuestion     = errors.New("unknown question")
	ErrSubmissionCompleted = errors.New("submission already completed")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrInvalidModule       = errors.New("invalid module number")
	ErrTooManyValues       = errors.New("question accepts a single value")
)

// Service implements the member-facing questionnaire operations.
type Service struct {
	repo   *repository.Repository
	logger *slog.Logger
}

func NewService(repo *repository.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ListModules returns the active modules with their questions and options.
func (s *Service) ListModules(ctx context.Context) ([]models.Module, error) {
	return s.repo.Quiz.ListModules(ctx, true)
}

// EnsureSubmission returns the user's latest submission, creating one with a
// snapshot of the user's email and name when none exists.
func (s *Service) EnsureSubmission(ctx context.Context, userID string) (*models.Submission, error) {
	sub, err := s.repo.Submissions.GetLatestSubmissionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get latest submission: %w", err)
	}
	if sub != nil {
		return sub, nil
	}

	u, err := s.repo.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	sub = &models.Submission{UserID: userID, UserEmail: u.Email, CurrentModule: 1}
	if p, err := s.repo.Profiles.GetProfile(ctx, userID); err != nil {
		s.logger.Warn("profile lookup failed", slog.String("user_id", userID), slog.Any("err", err))
	} else if p != nil {
		sub.UserName = p.FullName
	}

	id, err := s.repo.Submissions.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	s.logger.Info("submission created", slog.String("submission_id", id), slog.String("user_id", userID))
	return s.repo.Submissions.GetSubmission(ctx, id)
}

func (s *Service) openSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	sub, err := s.repo.Submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	if sub.Completed {
		return nil, ErrSubmissionCompleted
	}
	return sub, nil
}

// SaveAnswer stores the answer to a question, replacing any previous one.
// Multi-select questions take any number of values and are stored as a
// JSON array; other questions take at most one.
func (s *Service) SaveAnswer(ctx context.Context, submissionID, questionID string, values ...string) error {
	if _, err := s.openSubmission(ctx, submissionID); err != nil {
		return err
	}
	q, err := s.repo.Quiz.GetQuestion(ctx, questionID)
	if err != nil {
		return fmt.Errorf("get question: %w", err)
	}
	if q == nil {
		return ErrUnknownQuestion
	}

	var value string
	if q.MultiSelect() {
		if value, err = encodeChoices(values); err != nil {
			return fmt.Errorf("encode choices: %w", err)
		}
	} else {
		switch len(values) {
		case 0:
		case 1:
			value = strings.TrimSpace(values[0])
		default:
			return ErrTooManyValues
		}
	}

	return s.repo.Answers.UpsertAnswer(ctx, &models.Answer{
		SubmissionID: submissionID,
		QuestionID:   questionID,
		Value:        value,
	})
}

// AdvanceModule records the module the member is currently on.
func (s *Service) AdvanceModule(ctx context.Context, submissionID string, module int) error {
	if module < 1 {
		return ErrInvalidModule
	}
	if _, err := s.openSubmission(ctx, submissionID); err != nil {
		return err
	}
	modules, err := s.repo.Quiz.ListModules(ctx, true)
	if err != nil {
		return fmt.Errorf("list modules: %w", err)
	}
	if module > len(modules) {
		return ErrInvalidModule
	}
	return s.repo.Submissions.UpdateCurrentModule(ctx, submissionID, module)
}

// BuildCompleteAnswers aggregates the submission's answers into the
// question -> value record. Multi-select answers keep their array form.
// An already-set webhook_processed flag is preserved.
func (s *Service) BuildCompleteAnswers(ctx context.Context, submissionID string) (*models.CompleteAnswers, error) {
	sub, err := s.repo.Submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}

	details, err := s.repo.Answers.ListAnswerDetails(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answer details: %w", err)
	}

	respostas := make(map[string]any, len(details))
	for _, d := range details {
		if choices, ok := Choices(d.Value); ok {
			respostas[d.QuestionText] = choices
			continue
		}
		respostas[d.QuestionText] = d.Value
	}
	b, err := json.Marshal(respostas)
	if err != nil {
		return nil, fmt.Errorf("marshal respostas: %w", err)
	}

	rec := &models.CompleteAnswers{
		SubmissionID: submissionID,
		UserID:       sub.UserID,
		Respostas:    string(b),
		Updated:      time.Now().UnixMilli(),
	}
	if err := s.repo.CompleteAnswers.UpsertCompleteAnswers(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert complete answers: %w", err)
	}
	return s.repo.CompleteAnswers.GetCompleteAnswers(ctx, submissionID)
}
