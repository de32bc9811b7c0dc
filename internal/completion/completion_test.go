package completion_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository/mock"
	"github.com/garnizeh/mar/pkg/webhook"
)

type poster struct {
	status    int
	calls     int32
	block     chan struct{}
	enter     chan struct{}
	cancelled atomic.Bool
}

func (p *poster) PostJSON(ctx context.Context, url string, payload any) (*webhook.Response, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.enter != nil {
		p.enter <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if ctx.Err() != nil {
		p.cancelled.Store(true)
		return nil, ctx.Err()
	}
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	return &webhook.Response{StatusCode: status}, nil
}

type env struct {
	mocks  *mock.Mocks
	sub    *models.Submission
	poster *poster
	orch   *completion.Orchestrator
}

// setup creates a user with a submission answering `answered` of `required`
// required questions.
func setup(t *testing.T, required, answered int, p *poster) *env {
	t.Helper()
	m := mock.NewMocks()
	mod := models.Module{ID: "m1", Title: "Diagnóstico", OrderNumber: 1, Active: true}
	for i := 0; i < required; i++ {
		mod.Questions = append(mod.Questions, models.Question{
			ID: fmt.Sprintf("q%02d", i), ModuleID: "m1", Text: fmt.Sprintf("Pergunta %d", i),
			Type: models.QuestionText, OrderNumber: i + 1, Required: true,
		})
	}
	m.Modules = []models.Module{mod}
	m.Users["u1"] = &models.User{ID: "u1", Email: "ana@example.com"}

	sub := &models.Submission{UserID: "u1", UserEmail: "ana@example.com"}
	_, err := m.CreateSubmission(context.Background(), sub)
	require.NoError(t, err)
	for i := 0; i < answered; i++ {
		require.NoError(t, m.UpsertAnswer(context.Background(), &models.Answer{
			SubmissionID: sub.ID, QuestionID: fmt.Sprintf("q%02d", i), Value: "sim",
		}))
	}

	if p == nil {
		p = &poster{}
	}
	repo := m.Repository()
	dsvc, err := delivery.New(repo, p, delivery.Options{FallbackURL: "https://hooks.example.com/quiz"}, nil)
	require.NoError(t, err)
	orch := completion.NewOrchestrator(repo.Submissions, quiz.NewValidator(m, m, m), quiz.NewService(repo, nil), dsvc, nil)
	return &env{mocks: m, sub: sub, poster: p, orch: orch}
}

func (e *env) stored(t *testing.T) *models.Submission {
	t.Helper()
	s, err := e.mocks.GetSubmission(context.Background(), e.sub.ID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestCompleteQuiz_AllAnswered(t *testing.T) {
	e := setup(t, 50, 50, nil)

	res := e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	assert.True(t, res.Success)
	assert.True(t, res.Verified)
	assert.True(t, res.WebhookSent)
	assert.Equal(t, completion.StepWebhook, res.Step)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Details)
	require.NotNil(t, res.Details.Webhook)
	assert.True(t, res.Details.Webhook.Success)

	s := e.stored(t)
	assert.True(t, s.Completed)
	assert.NotNil(t, s.CompletedAt)
	assert.True(t, s.WebhookProcessed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.poster.calls))

	rec, _ := e.mocks.GetCompleteAnswers(context.Background(), e.sub.ID)
	require.NotNil(t, rec, "complete answers rebuilt before marking")
	assert.True(t, rec.WebhookProcessed)
}

func TestCompleteQuiz_Incomplete(t *testing.T) {
	e := setup(t, 50, 48, nil)

	res := e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	assert.False(t, res.Success)
	assert.False(t, res.Verified)
	assert.False(t, res.WebhookSent)
	assert.Equal(t, completion.StepValidationFailed, res.Step)
	assert.Equal(t, "Questionário incompleto: 96% respondido (48/50 perguntas obrigatórias)", res.Error)
	require.NotNil(t, res.Details)
	require.NotNil(t, res.Details.Validation)
	missing := res.Details.Validation.MissingQuestions
	require.Len(t, missing, 2)
	assert.Equal(t, "q48", missing[0].QuestionID)
	assert.Equal(t, "q49", missing[1].QuestionID)

	s := e.stored(t)
	assert.False(t, s.Completed)
	assert.Nil(t, s.CompletedAt)
	assert.Zero(t, e.mocks.CallCount("MarkCompleted"))
	assert.Zero(t, atomic.LoadInt32(&e.poster.calls))
}

func TestCompleteQuiz_WebhookFails(t *testing.T) {
	e := setup(t, 50, 50, &poster{status: http.StatusInternalServerError})

	res := e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	assert.True(t, res.Success)
	assert.True(t, res.Verified)
	assert.False(t, res.WebhookSent)
	assert.Equal(t, "Erro ao enviar webhook: HTTP 500", res.Error)
	require.NotNil(t, res.Details.Webhook)
	assert.Equal(t, http.StatusInternalServerError, res.Details.Webhook.StatusCode)

	s := e.stored(t)
	assert.True(t, s.Completed, "delivery failure never reverts completion")
	assert.False(t, s.WebhookProcessed)

	// the retry path re-enters delivery only
	e.poster.status = http.StatusOK
	retry := e.orch.RetryWebhook(context.Background(), e.sub.ID)
	assert.True(t, retry.Success)
	assert.True(t, e.stored(t).WebhookProcessed)
	assert.Equal(t, 1, e.mocks.CallCount("MarkCompleted"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&e.poster.calls))
}

func TestCompleteQuiz_VerificationMismatch(t *testing.T) {
	e := setup(t, 3, 3, nil)
	e.mocks.DropMarkCompleted = true

	res := e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	assert.True(t, res.Success)
	assert.False(t, res.Verified)
	assert.False(t, res.WebhookSent)
	assert.Equal(t, completion.StepVerification, res.Step)
	assert.Zero(t, atomic.LoadInt32(&e.poster.calls))
}

func TestCompleteQuiz_StageErrors(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(e *env)
		id       func(e *env) string
		wantStep string
		wantErr  string
	}{
		{
			name:     "submission missing",
			prepare:  func(e *env) {},
			id:       func(e *env) string { return "missing" },
			wantStep: completion.StepFetchSubmission,
			wantErr:  "Submissão não encontrada",
		},
		{
			name:     "submission lookup error",
			prepare:  func(e *env) { e.mocks.Fail["GetSubmission"] = errors.New("timeout") },
			wantStep: completion.StepFetchSubmission,
		},
		{
			name:     "validator error",
			prepare:  func(e *env) { e.mocks.Fail["ListModules"] = errors.New("permission denied") },
			wantStep: completion.StepValidation,
		},
		{
			name:     "update error",
			prepare:  func(e *env) { e.mocks.Fail["MarkCompleted"] = errors.New("read only") },
			wantStep: completion.StepUpdate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, 2, 2, nil)
			tt.prepare(e)
			id := e.sub.ID
			if tt.id != nil {
				id = tt.id(e)
			}

			res := e.orch.CompleteQuiz(context.Background(), id)
			assert.False(t, res.Success)
			assert.False(t, res.Verified)
			assert.False(t, res.WebhookSent)
			assert.Equal(t, tt.wantStep, res.Step)
			assert.NotEmpty(t, res.Error)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, res.Error)
			} else {
				require.NotNil(t, res.Details)
				assert.NotEmpty(t, res.Details.Error)
			}
			assert.Zero(t, atomic.LoadInt32(&e.poster.calls))
		})
	}
}

func TestCompleteQuiz_AggregatorFailureIsNotFatal(t *testing.T) {
	e := setup(t, 1, 1, nil)
	e.mocks.Fail["UpsertCompleteAnswers"] = errors.New("disk full")

	res := e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	assert.True(t, res.Success)
	assert.True(t, res.WebhookSent)
}

func TestCompleteQuiz_CoalescesConcurrentCalls(t *testing.T) {
	p := &poster{block: make(chan struct{}), enter: make(chan struct{}, 4)}
	e := setup(t, 1, 1, p)

	var wg sync.WaitGroup
	results := make([]completion.Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	}()
	<-p.enter

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	}()
	// let the second caller join the in-flight run
	time.Sleep(100 * time.Millisecond)
	close(p.block)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))
	for _, r := range results {
		assert.True(t, r.WebhookSent)
	}
}

func TestCompleteQuiz_CompletesOnlyOnce(t *testing.T) {
	e := setup(t, 3, 3, nil)
	ctx := context.Background()

	first := e.orch.CompleteQuiz(ctx, e.sub.ID)
	require.True(t, first.WebhookSent)
	completedAt := *e.stored(t).CompletedAt

	second := e.orch.CompleteQuiz(ctx, e.sub.ID)
	assert.True(t, second.Success)
	assert.True(t, second.Verified)
	assert.True(t, second.WebhookSent)
	require.NotNil(t, second.Details.Webhook)
	assert.Equal(t, delivery.MsgAlreadyProcessed, second.Details.Webhook.Message)

	s := e.stored(t)
	assert.True(t, s.WebhookProcessed, "a repeated completion never resets the flag")
	assert.Equal(t, completedAt, *s.CompletedAt)
	assert.Equal(t, 1, e.mocks.CallCount("MarkCompleted"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.poster.calls))
}

func TestCompleteQuiz_AlreadyCompletedRetriesPendingDelivery(t *testing.T) {
	e := setup(t, 2, 2, &poster{status: http.StatusBadGateway})
	ctx := context.Background()

	first := e.orch.CompleteQuiz(ctx, e.sub.ID)
	require.True(t, first.Success)
	require.False(t, first.WebhookSent)

	e.poster.status = http.StatusOK
	second := e.orch.CompleteQuiz(ctx, e.sub.ID)
	assert.True(t, second.WebhookSent)
	assert.Equal(t, completion.StepWebhook, second.Step)
	assert.Equal(t, 1, e.mocks.CallCount("MarkCompleted"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&e.poster.calls))
	assert.True(t, e.stored(t).WebhookProcessed)
}

func TestCompleteQuiz_SharedRunSurvivesFirstCallerCancel(t *testing.T) {
	p := &poster{block: make(chan struct{}), enter: make(chan struct{}, 4)}
	e := setup(t, 1, 1, p)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	results := make([]completion.Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = e.orch.CompleteQuiz(ctx, e.sub.ID)
	}()
	<-p.enter

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = e.orch.CompleteQuiz(context.Background(), e.sub.ID)
	}()
	time.Sleep(100 * time.Millisecond)
	// the first client goes away while the POST is in flight
	cancel()
	close(p.block)
	wg.Wait()

	assert.False(t, p.cancelled.Load())
	for _, r := range results {
		assert.True(t, r.WebhookSent)
	}
	assert.True(t, e.stored(t).WebhookProcessed)
}

func TestRetryWebhook_IgnoresOpenCircuit(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	e := setup(t, 1, 1, nil)
	client := webhook.NewClient(webhook.Config{Timeout: 2 * time.Second, CircuitFailureThreshold: 1, CircuitReset: time.Hour}, srv.Client())
	defer client.Close()
	repo := e.mocks.Repository()
	dsvc, err := delivery.New(repo, client, delivery.Options{FallbackURL: srv.URL}, nil)
	require.NoError(t, err)
	orch := completion.NewOrchestrator(repo.Submissions, quiz.NewValidator(e.mocks, e.mocks, e.mocks), quiz.NewService(repo, nil), dsvc, nil)

	res := orch.CompleteQuiz(context.Background(), e.sub.ID)
	require.True(t, res.Success)
	require.False(t, res.WebhookSent)

	// the endpoint recovers; the breaker is still open for automatic sends
	status.Store(http.StatusOK)
	_, err = client.PostJSON(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, webhook.ErrCircuitOpen)

	retry := orch.RetryWebhook(context.Background(), e.sub.ID)
	assert.True(t, retry.Success, retry.Message)
	assert.True(t, e.stored(t).WebhookProcessed)
}
