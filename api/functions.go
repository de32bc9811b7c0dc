package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/schema"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Function names served under /functions/v1/.
const (
	FnQuizWebhook             = "quiz-webhook"
	FnDeleteQuizSubmission    = "delete-quiz-submission"
	FnCompleteQuizManually    = "complete-quiz-manually"
	FnGetSubmissionDetails    = "get-submission-details"
	FnGetQuizCompletedAnswers = "get-quiz-completed-answers"
	FnGetAllUsers             = "get-all-users"
)

// Completer runs the completion pipeline.
type Completer interface {
	CompleteQuiz(ctx context.Context, submissionID string) completion.Result
}

type functionRequest struct {
	SubmissionID string `json:"submissionId"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

type function struct {
	needsSubmission bool
	run             func(w http.ResponseWriter, r *http.Request, req functionRequest)
}

// FunctionsHandler serves the admin function surface. Every function takes a
// JSON body and answers with JSON; errors carry an errorCode.
type FunctionsHandler struct {
	repo      *repository.Repository
	webhooks  WebhookService
	completer Completer
	schemas   *schema.Loader
	maxBody   int64
	fns       map[string]function
}

func NewFunctionsHandler(repo *repository.Repository, webhooks WebhookService, completer Completer, schemas *schema.Loader, maxBody int64) *FunctionsHandler {
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	if schemas == nil {
		var err error
		if schemas, err = schema.Default(); err != nil {
			logger.Error("load schemas", slog.Any("err", err))
		}
	}
	h := &FunctionsHandler{repo: repo, webhooks: webhooks, completer: completer, schemas: schemas, maxBody: maxBody}
	h.fns = map[string]function{
		FnQuizWebhook:             {needsSubmission: true, run: h.quizWebhook},
		FnDeleteQuizSubmission:    {needsSubmission: true, run: h.deleteSubmission},
		FnCompleteQuizManually:    {needsSubmission: true, run: h.completeManually},
		FnGetSubmissionDetails:    {needsSubmission: true, run: h.submissionDetails},
		FnGetQuizCompletedAnswers: {needsSubmission: true, run: h.completedAnswers},
		FnGetAllUsers:             {run: h.allUsers},
	}
	return h
}

func (h *FunctionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	fn, ok := h.fns[name]
	if !ok {
		writeFunctionError(w, http.StatusNotFound, CodeNotFound, "Função desconhecida: "+name)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFunctionError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Payload excede o tamanho máximo permitido")
			return
		}
		writeFunctionError(w, http.StatusBadRequest, CodeInvalidJSON, "Não foi possível ler o corpo da requisição")
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !json.Valid(data) {
		writeFunctionError(w, http.StatusBadRequest, CodeInvalidJSON, "JSON inválido")
		return
	}
	if err := h.schemas.Validate(r.Context(), schema.SubmissionRequest, data); err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, functionError{
				Error:     "Requisição inválida",
				ErrorCode: CodeInvalidRequest,
				Details:   verr.Problems,
			})
			return
		}
		logger.Error("schema validation", slog.String("function", name), slog.Any("err", err))
		writeFunctionError(w, http.StatusInternalServerError, CodeInternal, "Erro interno")
		return
	}

	var req functionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeFunctionError(w, http.StatusBadRequest, CodeInvalidJSON, "JSON inválido")
		return
	}
	if fn.needsSubmission {
		if req.SubmissionID == "" {
			writeFunctionError(w, http.StatusBadRequest, CodeMissingSubmissionID, "submissionId é obrigatório")
			return
		}
		id, err := uuid.Parse(req.SubmissionID)
		if err != nil {
			writeFunctionError(w, http.StatusBadRequest, CodeInvalidSubmissionID, "submissionId deve ser um UUID válido")
			return
		}
		req.SubmissionID = id.String()
	}

	fn.run(w, r, req)
}

func (h *FunctionsHandler) internalError(w http.ResponseWriter, what string, err error) {
	logger.Error(what, slog.Any("err", err))
	writeFunctionError(w, http.StatusInternalServerError, CodeInternal, "Erro interno")
}

func (h *FunctionsHandler) quizWebhook(w http.ResponseWriter, r *http.Request, req functionRequest) {
	res := h.webhooks.Send(r.Context(), req.SubmissionID)
	switch {
	case res.Success:
		if res.Message != delivery.MsgAlreadyProcessed {
			logAdminAction(r.Context(), h.repo.Audit, ActionQuizWebhook, auditTargetSubmission, req.SubmissionID, map[string]any{
				"status_code": res.StatusCode,
			})
		}
		writeJSON(w, http.StatusOK, res)
	case res.Message == delivery.MsgSubmissionNotFound:
		writeFunctionError(w, http.StatusNotFound, CodeSubmissionNotFound, res.Message)
	case res.Message == delivery.MsgNotCompleted:
		writeFunctionError(w, http.StatusConflict, CodeSubmissionNotCompleted, res.Message)
	default:
		writeJSON(w, http.StatusBadGateway, functionError{Error: res.Message, ErrorCode: CodeDeliveryFailed, Details: res})
	}
}

func (h *FunctionsHandler) deleteSubmission(w http.ResponseWriter, r *http.Request, req functionRequest) {
	ok, err := h.repo.Submissions.DeleteSubmission(r.Context(), req.SubmissionID)
	if err != nil {
		h.internalError(w, "delete submission", err)
		return
	}
	if !ok {
		writeFunctionError(w, http.StatusNotFound, CodeSubmissionNotFound, delivery.MsgSubmissionNotFound)
		return
	}
	logAdminAction(r.Context(), h.repo.Audit, ActionDeleteSubmission, auditTargetSubmission, req.SubmissionID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Submissão excluída com sucesso"})
}

// completeManually runs the full pipeline for the submission's owner.
func (h *FunctionsHandler) completeManually(w http.ResponseWriter, r *http.Request, req functionRequest) {
	sub, err := h.repo.Submissions.GetSubmission(r.Context(), req.SubmissionID)
	if err != nil {
		h.internalError(w, "get submission", err)
		return
	}
	if sub == nil {
		writeFunctionError(w, http.StatusNotFound, CodeSubmissionNotFound, delivery.MsgSubmissionNotFound)
		return
	}

	res := h.completer.CompleteQuiz(r.Context(), sub.ID)
	logAdminAction(r.Context(), h.repo.Audit, ActionCompleteManually, auditTargetSubmission, sub.ID, map[string]any{
		"user_id":      sub.UserID,
		"success":      res.Success,
		"verified":     res.Verified,
		"webhook_sent": res.WebhookSent,
		"step":         res.Step,
	})

	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case res.Step == completion.StepValidationFailed:
		writeJSON(w, http.StatusUnprocessableEntity, functionError{Error: res.Error, ErrorCode: CodeValidationFailed, Details: res})
	default:
		writeJSON(w, http.StatusInternalServerError, functionError{Error: res.Error, ErrorCode: CodeInternal, Details: res})
	}
}

type submissionDetails struct {
	Submission      *models.Submission       `json:"submission"`
	User            *models.User             `json:"user,omitempty"`
	Profile         *models.Profile          `json:"profile,omitempty"`
	Answers         []models.AnswerDetail    `json:"answers"`
	CompleteAnswers json.RawMessage          `json:"complete_answers,omitempty"`
	Deliveries      []models.WebhookDelivery `json:"deliveries"`
}

func (h *FunctionsHandler) submissionDetails(w http.ResponseWriter, r *http.Request, req functionRequest) {
	ctx := r.Context()
	sub, err := h.repo.Submissions.GetSubmission(ctx, req.SubmissionID)
	if err != nil {
		h.internalError(w, "get submission", err)
		return
	}
	if sub == nil {
		writeFunctionError(w, http.StatusNotFound, CodeSubmissionNotFound, delivery.MsgSubmissionNotFound)
		return
	}

	out := submissionDetails{Submission: sub}
	if out.User, err = h.repo.Users.GetUserByID(ctx, sub.UserID); err != nil {
		h.internalError(w, "get user", err)
		return
	}
	if out.Profile, err = h.repo.Profiles.GetProfile(ctx, sub.UserID); err != nil {
		h.internalError(w, "get profile", err)
		return
	}
	if out.Answers, err = h.repo.Answers.ListAnswerDetails(ctx, sub.ID); err != nil {
		h.internalError(w, "list answers", err)
		return
	}
	ca, err := h.repo.CompleteAnswers.GetCompleteAnswers(ctx, sub.ID)
	if err != nil {
		h.internalError(w, "get complete answers", err)
		return
	}
	if ca != nil && json.Valid([]byte(ca.Respostas)) {
		out.CompleteAnswers = json.RawMessage(ca.Respostas)
	}
	if out.Deliveries, err = h.repo.Deliveries.ListDeliveries(ctx, sub.ID); err != nil {
		h.internalError(w, "list deliveries", err)
		return
	}
	if out.Answers == nil {
		out.Answers = []models.AnswerDetail{}
	}
	if out.Deliveries == nil {
		out.Deliveries = []models.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FunctionsHandler) completedAnswers(w http.ResponseWriter, r *http.Request, req functionRequest) {
	ctx := r.Context()
	ca, err := h.repo.CompleteAnswers.GetCompleteAnswers(ctx, req.SubmissionID)
	if err != nil {
		h.internalError(w, "get complete answers", err)
		return
	}
	if ca == nil {
		writeFunctionError(w, http.StatusNotFound, CodeSubmissionNotFound, "Respostas completas não encontradas para esta submissão")
		return
	}
	respostas, err := delivery.DecodeRespostas(ctx, h.schemas, ca.Respostas)
	if err != nil {
		logger.Warn("stored respostas rejected", slog.String("submission_id", ca.SubmissionID), slog.Any("err", err))
		writeFunctionError(w, http.StatusInternalServerError, CodeInternal, "Respostas armazenadas em formato inválido")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submission_id":     ca.SubmissionID,
		"user_id":           ca.UserID,
		"webhook_processed": ca.WebhookProcessed,
		"respostas":         respostas,
	})
}

func (h *FunctionsHandler) allUsers(w http.ResponseWriter, r *http.Request, req functionRequest) {
	limit := req.Limit
	if limit == 0 {
		limit = 100
	}
	users, err := h.repo.Users.ListUsers(r.Context(), limit, req.Offset)
	if err != nil {
		h.internalError(w, "list users", err)
		return
	}
	if users == nil {
		users = []models.UserWithProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}
