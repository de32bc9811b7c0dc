package jobs_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"

	"github.com/garnizeh/mar/internal/db/dbtest"
	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/jobs"
	"github.com/garnizeh/mar/internal/models"
	"github.com/garnizeh/mar/internal/repository/sqlite"
	pkgmodels "github.com/garnizeh/mar/pkg/models"
)

func newRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	return sqlite.New(dbtest.New(t), slog.Default())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	handled := make(chan struct{}, 1)
	handlers := map[string]jobs.Handler{
		"test": func(ctx context.Context, j *models.BackgroundJob) error {
			handled <- struct{}{}
			return nil
		},
	}
	pool := jobs.NewWorkerPool(repo, handlers, slog.Default(), 1).WithPollInterval(10 * time.Millisecond)
	pool.Start(ctx)
	defer pool.Stop()

	if _, err := pool.Enqueue(ctx, "test", map[string]string{"foo": "bar"}, 10, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-handled:
		// ok
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not called")
	}
	waitFor(t, "job done", func() bool {
		n, _ := repo.CountJobs(ctx, models.JobDone)
		return n == 1
	})
}

func TestRetryUntilDeadLetter(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	var calls int32
	handlers := map[string]jobs.Handler{
		"flaky": func(ctx context.Context, j *models.BackgroundJob) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("HTTP 503")
		},
	}
	pool := jobs.NewWorkerPool(repo, handlers, nil, 2).
		WithPollInterval(10 * time.Millisecond).
		WithBackoff(func(int) time.Duration { return 0 })
	pool.Start(ctx)
	defer pool.Stop()

	if _, err := jobs.Enqueue(ctx, repo, "flaky", nil, 1, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var dead []models.DeadLetterJob
	waitFor(t, "dead letter", func() bool {
		dead, _ = repo.ListDeadLetter(ctx, 10)
		return len(dead) == 1
	})
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if dead[0].Attempts != 3 || !strings.Contains(dead[0].LastError, jobs.ErrMaxAttempts.Error()) {
		t.Fatalf("unexpected dead letter %#v", dead[0])
	}
	if n, _ := repo.CountJobs(ctx, ""); n != 0 {
		t.Fatalf("dead-lettered job should leave the queue, %d left", n)
	}
}

func TestPermanentAndUnknownJobs(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	var calls int32
	handlers := map[string]jobs.Handler{
		"broken": func(ctx context.Context, j *models.BackgroundJob) error {
			atomic.AddInt32(&calls, 1)
			return jobs.Permanent(errors.New("bad payload"))
		},
	}
	pool := jobs.NewWorkerPool(repo, handlers, nil, 1).WithPollInterval(10 * time.Millisecond)
	pool.Start(ctx)
	defer pool.Stop()

	if _, err := pool.Enqueue(ctx, "broken", nil, 1, 5); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := pool.Enqueue(ctx, "nobody-handles-this", nil, 2, 5); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, "two dead letters", func() bool {
		dead, _ := repo.ListDeadLetter(ctx, 10)
		return len(dead) == 2
	})
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", got)
	}
}

func TestStopIsIdempotentAndHonoursContext(t *testing.T) {
	repo := newRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	pool := jobs.NewWorkerPool(repo, nil, nil, 3).WithPollInterval(time.Hour)
	pool.Start(ctx)
	cancel()
	pool.Stop()
	pool.Stop()
}

func TestBackoffDuration(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		3:  8 * time.Second,
		8:  5 * time.Minute,
		64: 5 * time.Minute,
	}
	for attempt, want := range cases {
		if got := jobs.BackoffDuration(attempt); got != want {
			t.Errorf("BackoffDuration(%d) = %v, want %v", attempt, got, want)
		}
	}
}

type sender struct {
	results map[string]delivery.Result
	got     []string
}

func (s *sender) Send(ctx context.Context, id string) delivery.Result {
	s.got = append(s.got, id)
	return s.results[id]
}

func TestDeliverHandler(t *testing.T) {
	s := &sender{results: map[string]delivery.Result{
		"ok":   {Success: true, Message: delivery.MsgSent},
		"down": {Message: "Erro ao enviar webhook: HTTP 502"},
		"gone": {Message: delivery.MsgSubmissionNotFound},
		"open": {Message: delivery.MsgNotCompleted},
	}}
	h := jobs.DeliverHandler(s)

	tests := []struct {
		name      string
		payload   string
		wantErr   bool
		permanent bool
	}{
		{name: "delivered", payload: `{"submission_id":"ok"}`},
		{name: "endpoint down", payload: `{"submission_id":"down"}`, wantErr: true},
		{name: "submission gone", payload: `{"submission_id":"gone"}`, wantErr: true, permanent: true},
		{name: "submission not completed", payload: `{"submission_id":"open"}`, wantErr: true, permanent: true},
		{name: "missing id", payload: `{}`, wantErr: true, permanent: true},
		{name: "garbage", payload: `not json`, wantErr: true, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h(context.Background(), &models.BackgroundJob{Type: jobs.TypeWebhookDeliver, Payload: []byte(tt.payload)})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if jobs.IsPermanent(err) != tt.permanent {
				t.Fatalf("permanent = %v, want %v", jobs.IsPermanent(err), tt.permanent)
			}
		})
	}
	if len(s.got) != 4 {
		t.Fatalf("expected 4 sends, got %v", s.got)
	}
}

func TestEnqueuePendingDeliveries(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	uid, err := repo.CreateUser(ctx, &pkgmodels.User{Email: "ana@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pending, _ := repo.CreateSubmission(ctx, &pkgmodels.Submission{UserID: uid})
	if err := repo.MarkCompleted(ctx, pending, time.Now().UnixMilli()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	delivered, _ := repo.CreateSubmission(ctx, &pkgmodels.Submission{UserID: uid})
	_ = repo.MarkCompleted(ctx, delivered, time.Now().UnixMilli())
	_ = repo.SetWebhookProcessed(ctx, delivered)
	_, _ = repo.CreateSubmission(ctx, &pkgmodels.Submission{UserID: uid})

	ids, err := jobs.EnqueuePendingDeliveries(ctx, repo, repo, 100, 3)
	if err != nil {
		t.Fatalf("EnqueuePendingDeliveries: %v", err)
	}
	if len(ids) != 1 || ids[0] != pending {
		t.Fatalf("unexpected ids %v", ids)
	}

	j, err := repo.ClaimNextJob(ctx)
	if err != nil || j == nil {
		t.Fatalf("ClaimNextJob: %v, %v", j, err)
	}
	if j.Type != jobs.TypeWebhookDeliver || string(j.Payload) != `{"submission_id":"`+pending+`"}` || j.MaxAttempts != 3 {
		t.Fatalf("unexpected job %#v", j)
	}
}
