// Package completion runs the questionnaire completion pipeline: validate,
// mark complete, read back, deliver. It is a saga without compensations: a
// failed delivery is a valid end state that can be retried later through
// RetryWebhook, and nothing already written is undone.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/garnizeh/mar/pkg/webhook"
)

// Step tags identify where a run stopped.
const (
	StepFetchSubmission  = "fetch_submission"
	StepValidation       = "validation"
	StepValidationFailed = "validation_failed"
	StepUpdate           = "update"
	StepVerification     = "verification"
	StepWebhook          = "webhook"
)

// Validator reports how complete a user's questionnaire is.
type Validator interface {
	Validate(ctx context.Context, userID string) (*models.ValidationResult, error)
}

// Deliverer sends a submission to the webhook.
type Deliverer interface {
	Send(ctx context.Context, submissionID string) delivery.Result
}

// Aggregator rebuilds the denormalized answers record.
type Aggregator interface {
	BuildCompleteAnswers(ctx context.Context, submissionID string) (*models.CompleteAnswers, error)
}

// Details carries the data behind a Result for the UI.
type Details struct {
	Validation *models.ValidationResult `json:"validation,omitempty"`
	Webhook    *delivery.Result         `json:"webhook,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Result is the outcome of one completion run.
type Result struct {
	Success     bool     `json:"success"`
	Verified    bool     `json:"verified"`
	WebhookSent bool     `json:"webhookSent"`
	Error       string   `json:"error,omitempty"`
	Step        string   `json:"step,omitempty"`
	Details     *Details `json:"details,omitempty"`
}

func stop(step, msg string, err error) Result {
	r := Result{Step: step, Error: msg}
	if err != nil {
		r.Details = &Details{Error: err.Error()}
	}
	return r
}

// IncompleteMessage is the member-facing text for an incomplete questionnaire.
func IncompleteMessage(v *models.ValidationResult) string {
	return fmt.Sprintf("Questionário incompleto: %d%% respondido (%d/%d perguntas obrigatórias)",
		v.CompletionPercentage, v.TotalAnswered, v.TotalRequired)
}

type Orchestrator struct {
	submissions repository.SubmissionRepo
	validator   Validator
	aggregator  Aggregator
	deliverer   Deliverer
	logger      *slog.Logger
	now         func() time.Time

	// coalesces concurrent runs for the same submission in this process
	group singleflight.Group
}

// NewOrchestrator wires the pipeline. aggregator may be nil.
func NewOrchestrator(submissions repository.SubmissionRepo, validator Validator, aggregator Aggregator, deliverer Deliverer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		submissions: submissions,
		validator:   validator,
		aggregator:  aggregator,
		deliverer:   deliverer,
		logger:      logger,
		now:         time.Now,
	}
}

// CompleteQuiz runs the pipeline for one submission. Concurrent calls for
// the same submission share a single run, which outlives the cancellation
// of whichever caller started it.
func (o *Orchestrator) CompleteQuiz(ctx context.Context, submissionID string) Result {
	v, _, _ := o.group.Do("complete:"+submissionID, func() (any, error) {
		return o.complete(context.WithoutCancel(ctx), submissionID), nil
	})
	return v.(Result)
}

func (o *Orchestrator) complete(ctx context.Context, submissionID string) Result {
	log := o.logger.With(slog.String("submission_id", submissionID))

	sub, err := o.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		log.Error("fetch submission failed", slog.String("step", StepFetchSubmission), slog.Any("err", err))
		return stop(StepFetchSubmission, "Erro ao buscar submissão", err)
	}
	if sub == nil {
		log.Warn("submission not found", slog.String("step", StepFetchSubmission))
		return stop(StepFetchSubmission, delivery.MsgSubmissionNotFound, nil)
	}
	log = log.With(slog.String("user_id", sub.UserID))

	// completion happens once; later calls only re-enter delivery, which
	// short-circuits when the webhook was already processed
	if sub.Completed {
		log.Info("submission already completed, skipping to delivery", slog.String("step", StepWebhook))
		return o.deliver(ctx, log, submissionID)
	}

	validation, err := o.validator.Validate(ctx, sub.UserID)
	if err != nil {
		log.Error("validation failed", slog.String("step", StepValidation), slog.Any("err", err))
		return stop(StepValidation, "Erro ao validar questionário", err)
	}
	if !validation.Valid {
		log.Info("questionnaire incomplete",
			slog.String("step", StepValidationFailed),
			slog.Int("answered", validation.TotalAnswered),
			slog.Int("required", validation.TotalRequired),
		)
		r := stop(StepValidationFailed, IncompleteMessage(validation), nil)
		r.Details = &Details{Validation: validation}
		return r
	}

	if o.aggregator != nil {
		if _, err := o.aggregator.BuildCompleteAnswers(ctx, submissionID); err != nil {
			log.Warn("rebuild complete answers failed", slog.Any("err", err))
		}
	}

	if err := o.submissions.MarkCompleted(ctx, submissionID, o.now().UnixMilli()); err != nil {
		log.Error("mark completed failed", slog.String("step", StepUpdate), slog.Any("err", err))
		return stop(StepUpdate, "Erro ao marcar questionário como concluído", err)
	}

	check, err := o.submissions.GetSubmission(ctx, submissionID)
	if err != nil || check == nil || !check.Completed {
		log.Warn("completion not confirmed on read back", slog.String("step", StepVerification), slog.Any("err", err))
		r := Result{Success: true, Step: StepVerification, Error: "Não foi possível confirmar a conclusão do questionário"}
		if err != nil {
			r.Details = &Details{Error: err.Error()}
		}
		return r
	}

	return o.deliver(ctx, log, submissionID)
}

func (o *Orchestrator) deliver(ctx context.Context, log *slog.Logger, submissionID string) Result {
	res := o.deliverer.Send(ctx, submissionID)
	out := Result{
		Success:     true,
		Verified:    true,
		WebhookSent: res.Success,
		Step:        StepWebhook,
		Details:     &Details{Webhook: &res},
	}
	if !res.Success {
		out.Error = res.Message
		log.Warn("webhook not delivered", slog.String("step", StepWebhook), slog.String("message", res.Message))
	} else {
		log.Info("questionnaire completed and delivered")
	}
	return out
}

// RetryWebhook re-runs only the delivery stage. A member asked for it, so
// it goes out even while the client's circuit is open.
func (o *Orchestrator) RetryWebhook(ctx context.Context, submissionID string) delivery.Result {
	v, _, _ := o.group.Do("webhook:"+submissionID, func() (any, error) {
		return o.deliverer.Send(webhook.BypassCircuit(context.WithoutCancel(ctx)), submissionID), nil
	})
	return v.(delivery.Result)
}
