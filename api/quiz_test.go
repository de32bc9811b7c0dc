package api_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/garnizeh/mar/internal/progress"
	"github.com/garnizeh/mar/pkg/models"
)

type completionBody struct {
	Result struct {
		Success     bool   `json:"success"`
		Verified    bool   `json:"verified"`
		WebhookSent bool   `json:"webhookSent"`
		Step        string `json:"step"`
		Error       string `json:"error"`
		Message     string `json:"message"`
	} `json:"result"`
	Progress progress.View `json:"progress"`
}

func TestQuizRoutes_RequireToken(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/v1/quiz/modules", "/v1/quiz/submission", "/v1/quiz/validation"} {
		if status, _ := do(t, f.router, http.MethodGet, path, "", nil); status != http.StatusUnauthorized {
			t.Fatalf("%s: want 401 got %d", path, status)
		}
	}
}

func TestQuizRoutes_ModulesAndSubmission(t *testing.T) {
	f := newFixture(t)
	tok := tokenFor(t, "member-1", models.RoleMember)

	status, body := do(t, f.router, http.MethodGet, "/v1/quiz/modules", tok, nil)
	if status != http.StatusOK {
		t.Fatalf("modules: %d %s", status, body)
	}
	var modules []models.Module
	decode(t, body, &modules)
	if len(modules) != 2 || modules[0].ID != "m1" || len(modules[0].Questions) != 2 {
		t.Fatalf("unexpected modules %+v", modules)
	}

	status, body = do(t, f.router, http.MethodGet, "/v1/quiz/submission", tok, nil)
	if status != http.StatusOK {
		t.Fatalf("submission: %d %s", status, body)
	}
	var first struct {
		Submission models.Submission `json:"submission"`
		Answers    []models.Answer   `json:"answers"`
	}
	decode(t, body, &first)
	if first.Submission.UserID != "member-1" || first.Submission.UserName != "Ana" || len(first.Answers) != 0 {
		t.Fatalf("unexpected submission %+v", first)
	}

	// second call returns the same open submission
	_, body = do(t, f.router, http.MethodGet, "/v1/quiz/submission", tok, nil)
	var second struct {
		Submission models.Submission `json:"submission"`
	}
	decode(t, body, &second)
	if second.Submission.ID != first.Submission.ID {
		t.Fatalf("expected same submission, got %s and %s", first.Submission.ID, second.Submission.ID)
	}
}

func TestQuizRoutes_SaveAnswer(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, "member-1", nil)
	tok := tokenFor(t, "member-1", models.RoleMember)
	path := "/v1/quiz/submissions/" + sub.ID + "/answers"

	tests := []struct {
		name       string
		token      string
		path       string
		body       any
		wantStatus int
	}{
		{"text answer", tok, path, map[string]any{"question_id": qName, "value": " Acme "}, http.StatusNoContent},
		{"multi select", tok, path, map[string]any{"question_id": qChannels, "values": []string{"instagram", "google"}}, http.StatusNoContent},
		{"missing question", tok, path, map[string]any{"value": "x"}, http.StatusUnprocessableEntity},
		{"unknown question", tok, path, map[string]any{"question_id": "nope", "value": "x"}, http.StatusBadRequest},
		{"too many values", tok, path, map[string]any{"question_id": qGoal, "values": []string{"a", "b"}}, http.StatusBadRequest},
		{"bad json", tok, path, "{", http.StatusBadRequest},
		{"other member", tokenFor(t, "member-2", models.RoleMember), path, map[string]any{"question_id": qName, "value": "x"}, http.StatusForbidden},
		{"unknown submission", tok, "/v1/quiz/submissions/missing/answers", map[string]any{"question_id": qName, "value": "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, f.router, http.MethodPut, tt.path, tt.token, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("want %d got %d body=%s", tt.wantStatus, status, body)
			}
		})
	}

	got := f.mocks.Answers[sub.ID]
	if got[qName].Value != "Acme" {
		t.Fatalf("text answer not trimmed/stored: %+v", got[qName])
	}
	if got[qChannels].Value != `["instagram","google"]` {
		t.Fatalf("choices not stored as array: %q", got[qChannels].Value)
	}
}

func TestQuizRoutes_SaveAnswerOnCompletedSubmission(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, "member-1", nil)
	f.mocks.Submissions[sub.ID].Completed = true

	status, _ := do(t, f.router, http.MethodPut, "/v1/quiz/submissions/"+sub.ID+"/answers",
		tokenFor(t, "member-1", models.RoleMember), map[string]any{"question_id": qName, "value": "x"})
	if status != http.StatusConflict {
		t.Fatalf("want 409 got %d", status)
	}
}

func TestQuizRoutes_Advance(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, "member-1", nil)
	tok := tokenFor(t, "member-1", models.RoleMember)
	path := "/v1/quiz/submissions/" + sub.ID + "/advance"

	if status, body := do(t, f.router, http.MethodPost, path, tok, map[string]int{"module": 2}); status != http.StatusNoContent {
		t.Fatalf("advance: %d %s", status, body)
	}
	if f.mocks.Submissions[sub.ID].CurrentModule != 2 {
		t.Fatalf("module not advanced: %d", f.mocks.Submissions[sub.ID].CurrentModule)
	}
	if status, _ := do(t, f.router, http.MethodPost, path, tok, map[string]int{"module": 0}); status != http.StatusUnprocessableEntity {
		t.Fatalf("module 0: want 422 got %d", status)
	}
	if status, _ := do(t, f.router, http.MethodPost, path, tok, map[string]int{"module": 9}); status != http.StatusBadRequest {
		t.Fatalf("module 9: want 400 got %d", status)
	}
}

func TestQuizRoutes_Validation(t *testing.T) {
	f := newFixture(t)
	f.submission(t, "member-1", map[string]string{qName: "Acme", qChannels: "[]"})

	status, body := do(t, f.router, http.MethodGet, "/v1/quiz/validation", tokenFor(t, "member-1", models.RoleMember), nil)
	if status != http.StatusOK {
		t.Fatalf("validation: %d %s", status, body)
	}
	var v models.ValidationResult
	decode(t, body, &v)
	if v.Valid || v.TotalRequired != 3 || v.TotalAnswered != 1 || v.CompletionPercentage != 33 {
		t.Fatalf("unexpected validation %+v", v)
	}
	if len(v.MissingQuestions) != 2 || v.MissingQuestions[0].QuestionID != qChannels || v.MissingQuestions[1].QuestionID != qGoal {
		t.Fatalf("unexpected missing questions %+v", v.MissingQuestions)
	}
}

func TestQuizRoutes_Complete(t *testing.T) {
	tests := []struct {
		name        string
		answers     map[string]string
		status      int
		prepare     func(f *fixture)
		wantStatus  int
		wantSent    bool
		wantStep    string
		wantRetry   bool
		wantPosts   int
		wantAdvisor bool
	}{
		{
			name:       "all answered",
			answers:    allAnswers(),
			wantStatus: http.StatusOK,
			wantSent:   true,
			wantStep:   "webhook",
			wantPosts:  1,
		},
		{
			name:        "incomplete",
			answers:     map[string]string{qName: "Acme"},
			wantStatus:  http.StatusUnprocessableEntity,
			wantStep:    "validation_failed",
			wantAdvisor: true,
		},
		{
			name:        "webhook down",
			answers:     allAnswers(),
			status:      http.StatusServiceUnavailable,
			wantStatus:  http.StatusOK,
			wantStep:    "webhook",
			wantRetry:   true,
			wantPosts:   1,
			wantAdvisor: true,
		},
		{
			name:        "update fails",
			answers:     allAnswers(),
			prepare:     func(f *fixture) { f.mocks.Fail["MarkCompleted"] = errors.New("locked") },
			wantStatus:  http.StatusInternalServerError,
			wantStep:    "update",
			wantAdvisor: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.poster.status = tt.status
			if tt.prepare != nil {
				tt.prepare(f)
			}
			sub := f.submission(t, "member-1", tt.answers)

			status, body := do(t, f.router, http.MethodPost, "/v1/quiz/submissions/"+sub.ID+"/complete", tokenFor(t, "member-1", models.RoleMember), nil)
			if status != tt.wantStatus {
				t.Fatalf("want %d got %d body=%s", tt.wantStatus, status, body)
			}
			var out completionBody
			decode(t, body, &out)
			if out.Result.WebhookSent != tt.wantSent || out.Result.Step != tt.wantStep {
				t.Fatalf("unexpected result %+v", out.Result)
			}
			if out.Progress.CanRetryWebhook != tt.wantRetry {
				t.Fatalf("can retry = %v, want %v", out.Progress.CanRetryWebhook, tt.wantRetry)
			}
			if (out.Progress.Advisory != "") != tt.wantAdvisor {
				t.Fatalf("advisory = %q", out.Progress.Advisory)
			}
			if f.poster.count() != tt.wantPosts {
				t.Fatalf("posts = %d, want %d", f.poster.count(), tt.wantPosts)
			}
		})
	}
}

func TestQuizRoutes_CompleteOtherMember(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, "member-1", allAnswers())

	status, _ := do(t, f.router, http.MethodPost, "/v1/quiz/submissions/"+sub.ID+"/complete", tokenFor(t, "member-2", models.RoleMember), nil)
	if status != http.StatusForbidden {
		t.Fatalf("want 403 got %d", status)
	}
	if f.mocks.Submissions[sub.ID].Completed {
		t.Fatalf("submission completed by another member")
	}
}

func TestQuizRoutes_RetryWebhook(t *testing.T) {
	f := newFixture(t)
	f.poster.status = http.StatusBadGateway
	sub := f.submission(t, "member-1", allAnswers())
	tok := tokenFor(t, "member-1", models.RoleMember)
	retry := "/v1/quiz/submissions/" + sub.ID + "/webhook/retry"

	// not completed yet
	if status, _ := do(t, f.router, http.MethodPost, retry, tok, nil); status != http.StatusConflict {
		t.Fatalf("retry before completion: want 409 got %d", status)
	}

	if status, body := do(t, f.router, http.MethodPost, "/v1/quiz/submissions/"+sub.ID+"/complete", tok, nil); status != http.StatusOK {
		t.Fatalf("complete: %d %s", status, body)
	}

	status, body := do(t, f.router, http.MethodPost, retry, tok, nil)
	if status != http.StatusBadGateway {
		t.Fatalf("failed retry: want 502 got %d body=%s", status, body)
	}
	var out completionBody
	decode(t, body, &out)
	if !out.Progress.CanRetryWebhook {
		t.Fatalf("expected retry to stay available: %+v", out.Progress)
	}

	f.poster.mu.Lock()
	f.poster.status = http.StatusOK
	f.poster.mu.Unlock()
	status, body = do(t, f.router, http.MethodPost, retry, tok, nil)
	if status != http.StatusOK {
		t.Fatalf("retry: want 200 got %d body=%s", status, body)
	}
	decode(t, body, &out)
	step, _ := out.Progress.Step(progress.StepWebhook)
	if step.Status != progress.StatusSuccess || out.Progress.CanRetryWebhook || out.Progress.Advisory != "" {
		t.Fatalf("unexpected view after retry %+v", out.Progress)
	}
	if !f.mocks.Submissions[sub.ID].WebhookProcessed {
		t.Fatalf("webhook flag not set")
	}
	if f.poster.count() != 3 {
		t.Fatalf("posts = %d, want 3", f.poster.count())
	}
}
