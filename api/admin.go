package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/jobs"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/gorilla/mux"
)

// Audited admin actions.
const (
	ActionUpdateConfig       = "update_system_config"
	ActionTestWebhook        = "test_webhook"
	ActionRedeliverWebhooks  = "redeliver_webhooks"
	ActionQuizWebhook        = "quiz_webhook"
	ActionDeleteSubmission   = "delete_quiz_submission"
	ActionCompleteManually   = "complete_quiz_manually"
	auditTargetSubmission    = "quiz_submission"
	auditTargetSystemConfig  = "system_config"
	auditTargetWebhook       = "webhook"
	defaultRedeliverPageSize = 100
)

// WebhookService is the part of the delivery service the admin surface uses.
type WebhookService interface {
	Send(ctx context.Context, submissionID string) delivery.Result
	TestConnection(ctx context.Context) delivery.Result
}

type AdminHandler struct {
	repo        *repository.Repository
	webhooks    WebhookService
	maxAttempts int
}

func NewAdminHandler(repo *repository.Repository, webhooks WebhookService, maxAttempts int) *AdminHandler {
	return &AdminHandler{repo: repo, webhooks: webhooks, maxAttempts: maxAttempts}
}

type updateConfigRequest struct {
	Value       string `json:"value" validate:"max=2000"`
	Description string `json:"description" validate:"max=500"`
}

// logAdminAction writes an audit entry. Failures are logged, not returned.
func logAdminAction(ctx context.Context, audit repository.AuditRepo, action, targetType, targetID string, details any) {
	entry := &models.AuditEntry{Action: action, TargetType: targetType, TargetID: targetID}
	if c, ok := ClaimsFromContext(ctx); ok {
		entry.AdminID = c.Subject
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	if _, err := audit.LogAdminAction(ctx, entry); err != nil {
		logger.Error("audit write failed", slog.String("action", action), slog.String("target_id", targetID), slog.Any("err", err))
	}
}

func (h *AdminHandler) ListConfig(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.Config.ListConfig(r.Context())
	if err != nil {
		http.Error(w, "Error loading config", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.SystemConfig{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	c, err := h.repo.Config.GetConfig(r.Context(), key)
	if err != nil {
		http.Error(w, "Error loading config", http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.Error(w, "Config key not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req updateConfigRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if key == delivery.ConfigKeyWebhookURL {
		if err := validate.Var(req.Value, "required,url"); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "validation failed",
				"errors":  map[string]string{"value": "url"},
			})
			return
		}
	}

	ctx := r.Context()
	prev, err := h.repo.Config.GetConfig(ctx, key)
	if err != nil {
		http.Error(w, "Error loading config", http.StatusInternalServerError)
		return
	}

	c := &models.SystemConfig{Key: key, Value: req.Value, Description: req.Description}
	if c.Description == "" && prev != nil {
		c.Description = prev.Description
	}
	if claims, ok := ClaimsFromContext(ctx); ok {
		c.UpdatedBy = claims.Subject
	}
	if err := h.repo.Config.SetConfig(ctx, c); err != nil {
		logger.Error("set config", slog.String("key", key), slog.Any("err", err))
		http.Error(w, "Error saving config", http.StatusInternalServerError)
		return
	}

	details := map[string]string{"key": key, "new_value": req.Value}
	if prev != nil {
		details["old_value"] = prev.Value
	}
	logAdminAction(ctx, h.repo.Audit, ActionUpdateConfig, auditTargetSystemConfig, key, details)

	writeJSON(w, http.StatusOK, c)
}

func queryInt(r *http.Request, name string, def, ceiling int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if ceiling > 0 && v > ceiling {
		return ceiling
	}
	return v
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 0)
	entries, err := h.repo.Audit.ListAuditEntries(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "Error loading audit log", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *AdminHandler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	res := h.webhooks.TestConnection(r.Context())
	logAdminAction(r.Context(), h.repo.Audit, ActionTestWebhook, auditTargetWebhook, "", map[string]any{
		"success":     res.Success,
		"status_code": res.StatusCode,
	})
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// Redeliver queues a delivery job for every completed submission that has
// not reached the webhook yet.
func (h *AdminHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRedeliverPageSize, 1000)
	ids, err := jobs.EnqueuePendingDeliveries(r.Context(), h.repo.Submissions, h.repo.Jobs, limit, h.maxAttempts)
	if err != nil {
		logger.Error("redeliver", slog.Int("queued", len(ids)), slog.Any("err", err))
		http.Error(w, "Error queueing deliveries", http.StatusInternalServerError)
		return
	}
	logAdminAction(r.Context(), h.repo.Audit, ActionRedeliverWebhooks, auditTargetWebhook, "", map[string]any{
		"submission_ids": ids,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(ids), "submission_ids": ids})
}
