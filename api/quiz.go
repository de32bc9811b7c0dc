package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/progress"
	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/gorilla/mux"
)

// QuizHandler serves the member questionnaire.
type QuizHandler struct {
	quiz         *quiz.Service
	validator    *quiz.Validator
	orchestrator *completion.Orchestrator
	submissions  repository.SubmissionRepo
	answers      repository.AnswerRepo
}

func NewQuizHandler(svc *quiz.Service, v *quiz.Validator, o *completion.Orchestrator, subs repository.SubmissionRepo, answers repository.AnswerRepo) *QuizHandler {
	return &QuizHandler{quiz: svc, validator: v, orchestrator: o, submissions: subs, answers: answers}
}

type submissionResponse struct {
	Submission *models.Submission `json:"submission"`
	Answers    []models.Answer    `json:"answers"`
}

type saveAnswerRequest struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Value      *string  `json:"value"`
	Values     []string `json:"values" validate:"omitempty,max=50,dive,max=5000"`
}

type advanceRequest struct {
	Module int `json:"module" validate:"required,min=1"`
}

// completionResponse pairs a pipeline result with the rendered progress view.
type completionResponse struct {
	Result   any           `json:"result"`
	Progress progress.View `json:"progress"`
}

// ownSubmission loads the submission named in the path and checks it belongs
// to the caller. It writes the error response and returns nil on failure.
func (h *QuizHandler) ownSubmission(w http.ResponseWriter, r *http.Request) *models.Submission {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}
	id := mux.Vars(r)["id"]
	sub, err := h.submissions.GetSubmission(r.Context(), id)
	if err != nil {
		logger.Error("get submission", slog.String("submission_id", id), slog.Any("err", err))
		http.Error(w, "Error loading submission", http.StatusInternalServerError)
		return nil
	}
	if sub == nil {
		http.Error(w, "Submission not found", http.StatusNotFound)
		return nil
	}
	if sub.UserID != claims.Subject {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	}
	return sub
}

func quizError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrSubmissionNotFound):
		http.Error(w, "Submission not found", http.StatusNotFound)
	case errors.Is(err, quiz.ErrSubmissionCompleted):
		http.Error(w, "Submission already completed", http.StatusConflict)
	case errors.Is(err, quiz.ErrUnknownQuestion),
		errors.Is(err, quiz.ErrInvalidModule),
		errors.Is(err, quiz.ErrTooManyValues):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("quiz operation failed", slog.Any("err", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *QuizHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.quiz.ListModules(r.Context())
	if err != nil {
		quizError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

// CurrentSubmission returns the caller's latest submission, opening one if
// needed, with the answers saved so far.
func (h *QuizHandler) CurrentSubmission(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	sub, err := h.quiz.EnsureSubmission(r.Context(), claims.Subject)
	if err != nil {
		quizError(w, err)
		return
	}
	answers, err := h.answers.ListAnswers(r.Context(), sub.ID)
	if err != nil {
		quizError(w, err)
		return
	}
	if answers == nil {
		answers = []models.Answer{}
	}
	writeJSON(w, http.StatusOK, submissionResponse{Submission: sub, Answers: answers})
}

func (h *QuizHandler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	sub := h.ownSubmission(w, r)
	if sub == nil {
		return
	}
	var req saveAnswerRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	values := req.Values
	if req.Value != nil {
		values = append([]string{*req.Value}, values...)
	}
	if err := h.quiz.SaveAnswer(r.Context(), sub.ID, req.QuestionID, values...); err != nil {
		quizError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QuizHandler) AdvanceModule(w http.ResponseWriter, r *http.Request) {
	sub := h.ownSubmission(w, r)
	if sub == nil {
		return
	}
	var req advanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.quiz.AdvanceModule(r.Context(), sub.ID, req.Module); err != nil {
		quizError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QuizHandler) Validation(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	res, err := h.validator.Validate(r.Context(), claims.Subject)
	if err != nil {
		quizError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *QuizHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sub := h.ownSubmission(w, r)
	if sub == nil {
		return
	}
	res := h.orchestrator.CompleteQuiz(r.Context(), sub.ID)
	writeJSON(w, completionStatus(res), completionResponse{Result: res, Progress: progress.FromResult(res)})
}

// RetryWebhook re-sends a completed submission and patches the webhook step.
func (h *QuizHandler) RetryWebhook(w http.ResponseWriter, r *http.Request) {
	sub := h.ownSubmission(w, r)
	if sub == nil {
		return
	}
	if !sub.Completed {
		http.Error(w, "Submission not completed", http.StatusConflict)
		return
	}
	res := h.orchestrator.RetryWebhook(r.Context(), sub.ID)
	view := progress.FromResult(completion.Result{Success: true, Verified: true}).PatchWebhook(res)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, completionResponse{Result: res, Progress: view})
}

func completionStatus(res completion.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Step == completion.StepValidationFailed:
		return http.StatusUnprocessableEntity
	case res.Step == completion.StepFetchSubmission && res.Details == nil:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
