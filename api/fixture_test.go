package api_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/garnizeh/mar/api"
	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/internal/ratelimit"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository/mock"
	"github.com/garnizeh/mar/pkg/webhook"
	"github.com/gorilla/mux"
)

type fakePoster struct {
	mu       sync.Mutex
	status   int
	urls     []string
	payloads []any
}

func (p *fakePoster) PostJSON(ctx context.Context, url string, payload any) (*webhook.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	p.payloads = append(p.payloads, payload)
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	return &webhook.Response{StatusCode: status}, nil
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

const (
	qName     = "q-name"
	qChannels = "q-channels"
	qGoal     = "q-goal"
)

type fixture struct {
	mocks   *mock.Mocks
	poster  *fakePoster
	limiter *ratelimit.Limiter
	router  *mux.Router
}

// newFixture serves the full router over in-memory mocks. The questionnaire
// has three required questions over two modules. opts adjust the config
// before the router is built.
func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	m := mock.NewMocks()
	m.Modules = []models.Module{
		{ID: "m1", Title: "Negócio", OrderNumber: 1, Active: true, Questions: []models.Question{
			{ID: qName, ModuleID: "m1", Text: "Nome da empresa", Type: models.QuestionText, OrderNumber: 1, Required: true},
			{ID: qChannels, ModuleID: "m1", Text: "Canais", Type: models.QuestionCheckbox, OrderNumber: 2, Required: true},
		}},
		{ID: "m2", Title: "Objetivos", OrderNumber: 2, Active: true, Questions: []models.Question{
			{ID: qGoal, ModuleID: "m2", Text: "Objetivo", Type: models.QuestionTextarea, OrderNumber: 1, Required: true},
		}},
	}
	m.Users["member-1"] = &models.User{ID: "member-1", Email: "ana@example.com", Role: models.RoleMember}
	m.Users["member-2"] = &models.User{ID: "member-2", Email: "bia@example.com", Role: models.RoleMember}
	m.Users["admin-1"] = &models.User{ID: "admin-1", Email: "root@example.com", Role: models.RoleAdmin}
	m.Profiles["member-1"] = &models.Profile{UserID: "member-1", FullName: "Ana", Phone: "+55 11 90000-0000"}

	repo := m.Repository()
	poster := &fakePoster{}
	deliverySvc, err := delivery.New(repo, poster, delivery.Options{FallbackURL: "http://hooks.test/quiz"}, nil)
	if err != nil {
		t.Fatalf("delivery: %v", err)
	}
	quizSvc := quiz.NewService(repo, nil)
	validator := quiz.NewValidator(repo.Quiz, repo.Submissions, repo.Answers)
	orch := completion.NewOrchestrator(repo.Submissions, validator, quizSvc, deliverySvc, nil)
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), 30, time.Minute, nil)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}

	cfg := &config.Config{
		JWTSecret:      testSecret,
		TokenDuration:  time.Hour,
		CORSOrigins:    []string{"*"},
		MaxPayloadSize: 1 << 10,
		Workers:        config.WorkersConfig{MaxAttempts: 3},
	}
	for _, o := range opts {
		o(cfg)
	}
	r := api.NewRouter(cfg, "test", "now", api.Deps{
		Repo:         repo,
		Quiz:         quizSvc,
		Validator:    validator,
		Orchestrator: orch,
		Webhooks:     deliverySvc,
		Limiter:      limiter,
	})
	return &fixture{mocks: m, poster: poster, limiter: limiter, router: r}
}

// submission opens a submission for userID with the given answers.
func (f *fixture) submission(t *testing.T, userID string, answers map[string]string) *models.Submission {
	t.Helper()
	ctx := context.Background()
	sub := &models.Submission{UserID: userID, UserEmail: f.mocks.Users[userID].Email}
	if _, err := f.mocks.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	for q, v := range answers {
		if err := f.mocks.UpsertAnswer(ctx, &models.Answer{SubmissionID: sub.ID, QuestionID: q, Value: v}); err != nil {
			t.Fatalf("upsert answer: %v", err)
		}
	}
	return sub
}

// completedSubmission is submission marked completed, as the pipeline
// leaves it before delivery.
func (f *fixture) completedSubmission(t *testing.T, userID string, answers map[string]string) *models.Submission {
	t.Helper()
	sub := f.submission(t, userID, answers)
	at := time.Now().UnixMilli()
	stored := f.mocks.Submissions[sub.ID]
	stored.Completed = true
	stored.CompletedAt = &at
	return stored
}

func allAnswers() map[string]string {
	return map[string]string{qName: "Acme", qChannels: `["instagram","google"]`, qGoal: "Crescer"}
}
