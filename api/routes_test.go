package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/garnizeh/mar/api"
	"github.com/garnizeh/mar/internal/app"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/internal/db/dbtest"
	"github.com/garnizeh/mar/pkg/models"
)

const (
	seedQName     = "6b1f0c7e-2f44-4a8e-8f0e-5c3a9d2e0b01"
	seedQSegment  = "6b1f0c7e-2f44-4a8e-8f0e-5c3a9d2e0b02"
	seedQChannels = "6b1f0c7e-2f44-4a8e-8f0e-5c3a9d2e0b03"
	seedQGoal     = "6b1f0c7e-2f44-4a8e-8f0e-5c3a9d2e0b05"
)

type hookRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var v map[string]any
	_ = json.Unmarshal(b, &v)
	h.mu.Lock()
	h.bodies = append(h.bodies, v)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// TestSetupRoutes_EndToEnd drives a member from signup to a delivered
// webhook against the seeded SQLite store.
func TestSetupRoutes_EndToEnd(t *testing.T) {
	hook := &hookRecorder{}
	hookSrv := httptest.NewServer(hook)
	defer hookSrv.Close()

	cfg := &config.Config{
		Addr:         ":0",
		JWTSecret:    testSecret,
		DatabasePath: "memory",
		Webhook:      config.WebhookConfig{FallbackURL: hookSrv.URL, Timeout: 5 * time.Second},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := app.New(cfg, dbtest.NewSeeded(t), nil)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	defer a.Webhook.Close()
	router := api.SetupRoutes(a, "test", "now")

	if status, body := do(t, router, http.MethodGet, "/health", "", nil); status != http.StatusOK {
		t.Fatalf("health: %d %s", status, body)
	}

	status, body := do(t, router, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"name": "Ana Souza", "email": "ana@example.com", "password": "s3cret!", "phone": "+55 11 98888-7777",
	})
	if status != http.StatusOK {
		t.Fatalf("signup: %d %s", status, body)
	}
	var auth struct {
		Token string `json:"token"`
	}
	decode(t, body, &auth)

	status, body = do(t, router, http.MethodGet, "/v1/quiz/submission", auth.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("submission: %d %s", status, body)
	}
	var current struct {
		Submission models.Submission `json:"submission"`
	}
	decode(t, body, &current)
	subID := current.Submission.ID
	answers := "/v1/quiz/submissions/" + subID + "/answers"

	for _, req := range []map[string]any{
		{"question_id": seedQName, "value": "Acme Ltda"},
		{"question_id": seedQSegment, "value": "servicos"},
		{"question_id": seedQChannels, "values": []string{"redes_sociais", "google_ads"}},
	} {
		if status, body := do(t, router, http.MethodPut, answers, auth.Token, req); status != http.StatusNoContent {
			t.Fatalf("answer %v: %d %s", req["question_id"], status, body)
		}
	}

	// one required question left
	status, body = do(t, router, http.MethodPost, "/v1/quiz/submissions/"+subID+"/complete", auth.Token, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete: want 422 got %d body=%s", status, body)
	}

	if status, body := do(t, router, http.MethodPut, answers, auth.Token, map[string]any{"question_id": seedQGoal, "value": "Dobrar o faturamento"}); status != http.StatusNoContent {
		t.Fatalf("last answer: %d %s", status, body)
	}
	status, body = do(t, router, http.MethodPost, "/v1/quiz/submissions/"+subID+"/complete", auth.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("complete: %d %s", status, body)
	}
	var done completionBody
	decode(t, body, &done)
	if !done.Result.Success || !done.Result.Verified || !done.Result.WebhookSent {
		t.Fatalf("unexpected result %+v", done.Result)
	}

	hook.mu.Lock()
	if len(hook.bodies) != 1 {
		hook.mu.Unlock()
		t.Fatalf("expected one webhook, got %d", len(hook.bodies))
	}
	payload := hook.bodies[0]
	hook.mu.Unlock()
	if payload["ID_Submissao"] != subID || payload["Email"] != "ana@example.com" || payload["Nome"] != "Ana Souza" {
		t.Fatalf("unexpected payload %v", payload)
	}

	// admin: promote a user directly, then use the function surface
	ctx := t.Context()
	adminID, err := a.Repo.Users.CreateUser(ctx, &models.User{Email: "root@example.com", PasswordHash: "x", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	admin := tokenFor(t, adminID, models.RoleAdmin)

	status, body = do(t, router, http.MethodPost, "/functions/v1/get-quiz-completed-answers", admin, map[string]string{"submissionId": subID})
	if status != http.StatusOK {
		t.Fatalf("completed answers: %d %s", status, body)
	}
	var completed struct {
		Respostas map[string]string `json:"respostas"`
	}
	decode(t, body, &completed)
	if completed.Respostas["Quais canais de marketing você utiliza?"] != "redes_sociais, google_ads" {
		t.Fatalf("unexpected respostas %v", completed.Respostas)
	}

	status, body = do(t, router, http.MethodPost, "/functions/v1/get-submission-details", admin, map[string]string{"submissionId": subID})
	if status != http.StatusOK {
		t.Fatalf("details: %d %s", status, body)
	}
	var details struct {
		Submission models.Submission        `json:"submission"`
		Deliveries []models.WebhookDelivery `json:"deliveries"`
	}
	decode(t, body, &details)
	if !details.Submission.Completed || !details.Submission.WebhookProcessed || len(details.Deliveries) != 1 {
		t.Fatalf("unexpected details %+v", details)
	}

	// nothing left to redeliver
	status, body = do(t, router, http.MethodPost, "/v1/admin/webhook/redeliver", admin, nil)
	if status != http.StatusAccepted {
		t.Fatalf("redeliver: %d %s", status, body)
	}
	var queued struct {
		Queued int `json:"queued"`
	}
	decode(t, body, &queued)
	if queued.Queued != 0 {
		t.Fatalf("queued = %d", queued.Queued)
	}

	status, body = do(t, router, http.MethodGet, "/v1/admin/audit", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("audit: %d %s", status, body)
	}
	var entries []models.AuditEntry
	decode(t, body, &entries)
	if len(entries) != 1 || entries[0].Action != api.ActionRedeliverWebhooks || entries[0].AdminID != adminID {
		t.Fatalf("unexpected audit %+v", entries)
	}
}

func TestSetupRoutes_Preflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/quiz/modules", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code >= 300 {
		t.Fatalf("preflight: got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("preflight: missing Allow-Origin")
	}
}
