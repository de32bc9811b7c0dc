package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/mar/internal/models"
	"github.com/garnizeh/mar/pkg/repository"
)

type WorkerPool struct {
	repo        repository.JobRepo
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	poll        time.Duration
	backoff     func(attempt int) time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewWorkerPool(repo repository.JobRepo, handlers map[string]Handler, logger *slog.Logger, workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: workerCount,
		poll:        500 * time.Millisecond,
		backoff:     BackoffDuration,
		stop:        make(chan struct{}),
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func (p *WorkerPool) WithPollInterval(d time.Duration) *WorkerPool {
	if d > 0 {
		p.poll = d
	}
	return p
}

// WithBackoff replaces the retry schedule.
func (p *WorkerPool) WithBackoff(f func(attempt int) time.Duration) *WorkerPool {
	if f != nil {
		p.backoff = f
	}
	return p
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. Safe to call twice.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// wait sleeps for d unless the pool is stopping; it reports whether the
// worker should keep going.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", "id", id)
			return
		default:
		}

		job, err := p.repo.ClaimNextJob(ctx)
		if err != nil {
			p.logger.Error("fetch job", "err", err)
			if !p.wait(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			// nothing to do
			if !p.wait(ctx, p.poll) {
				return
			}
			continue
		}
		p.run(ctx, job)
	}
}

func (p *WorkerPool) run(ctx context.Context, job *models.BackgroundJob) {
	log := p.logger.With("job_id", job.ID, "type", job.Type)

	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = models.JobFailed
		job.LastError = "no handler"
		if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
			log.Error("move to dead letter", "err", err)
		}
		return
	}

	// run handler with context and cancellation
	err := h(ctx, job)
	if err == nil {
		job.Status = models.JobDone
		job.LastError = ""
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			log.Error("mark job done", "err", upErr)
		}
		log.Info("job done", "attempts", job.Attempts+1)
		return
	}

	// handler returned error
	job.Attempts++
	job.LastError = err.Error()
	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		if !IsPermanent(err) {
			job.LastError = fmt.Sprintf("%v: %v", ErrMaxAttempts, err)
		}
		job.Status = models.JobFailed
		if mvErr := p.repo.MoveToDeadLetter(ctx, job); mvErr != nil {
			log.Error("move to dead letter", "err", mvErr)
		}
		log.Warn("job dead-lettered", "attempts", job.Attempts, "err", job.LastError)
		return
	}

	// schedule retry with backoff
	t := time.Now().Add(p.backoff(job.Attempts))
	job.NextTryAt = &t
	job.Status = models.JobRetry
	if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
		log.Error("update job for retry", "err", upErr)
	}
	log.Info("job scheduled for retry", "attempts", job.Attempts, "next_try_at", t)
}

// Enqueue convenience helper that creates a job and persists it
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (string, error) {
	return Enqueue(ctx, p.repo, typ, payload, priority, maxAttempts)
}
