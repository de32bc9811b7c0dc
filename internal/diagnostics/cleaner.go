package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/mar/pkg/repository"
)

type CleanOptions struct {
	// DryRun only counts what would be removed.
	DryRun bool
	// StaleAfter is the age past which an incomplete submission without
	// answers is removed. Zero skips that step.
	StaleAfter time.Duration
	Now        func() time.Time
}

type CleanReport struct {
	DryRun                bool `json:"dry_run"`
	OrphanAnswers         int  `json:"orphan_answers"`
	OrphanCompleteAnswers int  `json:"orphan_complete_answers"`
	StaleEmptySubmissions int  `json:"stale_empty_submissions"`
}

// Total is the number of rows removed, or that would be removed.
func (r CleanReport) Total() int {
	return r.OrphanAnswers + r.OrphanCompleteAnswers + r.StaleEmptySubmissions
}

// SystemCleaner removes orphaned and abandoned rows.
type SystemCleaner struct {
	maint  repository.MaintenanceRepo
	logger *slog.Logger
}

func NewSystemCleaner(maint repository.MaintenanceRepo, logger *slog.Logger) *SystemCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemCleaner{maint: maint, logger: logger}
}

func (c *SystemCleaner) Run(ctx context.Context, opts CleanOptions) (CleanReport, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rep := CleanReport{DryRun: opts.DryRun}

	pick := func(count, del func(context.Context) (int, error)) func(context.Context) (int, error) {
		if opts.DryRun {
			return count
		}
		return del
	}

	var err error
	if rep.OrphanAnswers, err = pick(c.maint.CountOrphanAnswers, c.maint.DeleteOrphanAnswers)(ctx); err != nil {
		return rep, fmt.Errorf("orphan answers: %w", err)
	}
	if rep.OrphanCompleteAnswers, err = pick(c.maint.CountOrphanCompleteAnswers, c.maint.DeleteOrphanCompleteAnswers)(ctx); err != nil {
		return rep, fmt.Errorf("orphan complete answers: %w", err)
	}

	if opts.StaleAfter > 0 {
		before := opts.Now().Add(-opts.StaleAfter)
		if opts.DryRun {
			rep.StaleEmptySubmissions, err = c.maint.CountStaleEmptySubmissions(ctx, before)
		} else {
			rep.StaleEmptySubmissions, err = c.maint.DeleteStaleEmptySubmissions(ctx, before)
		}
		if err != nil {
			return rep, fmt.Errorf("stale submissions: %w", err)
		}
	}

	c.logger.Info("system clean finished",
		slog.Bool("dry_run", rep.DryRun),
		slog.Int("orphan_answers", rep.OrphanAnswers),
		slog.Int("orphan_complete_answers", rep.OrphanCompleteAnswers),
		slog.Int("stale_empty_submissions", rep.StaleEmptySubmissions),
	)
	return rep, nil
}
