package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/models"
)

var (
	redeliverLimit   int
	redeliverDrain   bool
	redeliverTimeout time.Duration
)

var testWebhookCmd = &cobra.Command{
	Use:   "test-webhook",
	Short: "Post a test payload to the configured webhook URL",
	Args:  cobra.NoArgs,
	RunE:  runTestWebhook,
}

var sendWebhookCmd = &cobra.Command{
	Use:   "send-webhook <submission-id>",
	Short: "Deliver one completed submission to the webhook",
	Long: `send-webhook builds the payload for a completed submission and posts it.
A submission that was already processed is reported and not sent again.`,
	Args: cobra.ExactArgs(1),
	RunE: runSendWebhook,
}

var completeCmd = &cobra.Command{
	Use:   "complete <submission-id>",
	Short: "Run the completion pipeline for a submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

var redeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Queue delivery jobs for completed submissions not yet delivered",
	Long: `redeliver enqueues a webhook delivery job for every completed submission
whose webhook was never processed. The server's workers pick them up; with
--drain marctl runs the workers itself until the queue is empty.`,
	Args: cobra.NoArgs,
	RunE: runRedeliver,
}

func init() {
	redeliverCmd.Flags().IntVar(&redeliverLimit, "limit", 100, "maximum submissions to queue")
	redeliverCmd.Flags().BoolVar(&redeliverDrain, "drain", false, "process the queue here instead of leaving it to the server")
	redeliverCmd.Flags().DurationVar(&redeliverTimeout, "timeout", 2*time.Minute, "give up draining after this long")
}

func printDelivery(cmd *cobra.Command, res delivery.Result) error {
	if jsonOutput {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		if res.StatusCode != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n", res.StatusCode)
		}
	}
	if !res.Success {
		return errors.New("webhook delivery failed")
	}
	return nil
}

func runTestWebhook(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Testing %s\n", a.Delivery.ResolveURL(ctx))
	return printDelivery(cmd, a.Delivery.TestConnection(ctx))
}

func runSendWebhook(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	return printDelivery(cmd, a.Delivery.Send(ctx, args[0]))
}

func runComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Orchestrator.CompleteQuiz(ctx, args[0])
	if jsonOutput {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		switch {
		case !res.Success:
			fmt.Fprintf(out, "Completion stopped at %s: %s\n", res.Step, res.Error)
		case !res.Verified:
			fmt.Fprintln(out, "Completed, but the stored state could not be verified")
		case res.WebhookSent:
			fmt.Fprintln(out, "Completed and delivered")
		default:
			fmt.Fprintf(out, "Completed; webhook not delivered: %s\n", res.Error)
		}
	}
	if !res.Success {
		return fmt.Errorf("completion failed at %s", res.Step)
	}
	return nil
}

func runRedeliver(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.EnqueuePending(ctx, redeliverLimit)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d deliveries\n", len(ids))
	if !redeliverDrain || len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, redeliverTimeout)
	defer cancel()

	pool := a.WorkerPool()
	pool.Start(ctx)
	defer pool.Stop()

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain: %w", ctx.Err())
		case <-tick.C:
		}
		busy, err := activeJobs(ctx, a.Repo.Jobs)
		if err != nil {
			return err
		}
		if busy == 0 {
			break
		}
	}

	retry, err := a.Repo.Jobs.CountJobs(ctx, models.JobRetry)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queue drained; %d deliveries waiting to retry\n", retry)
	return nil
}

type jobCounter interface {
	CountJobs(ctx context.Context, status string) (int, error)
}

func activeJobs(ctx context.Context, jobs jobCounter) (int, error) {
	n := 0
	for _, s := range []string{models.JobQueued, models.JobRunning} {
		c, err := jobs.CountJobs(ctx, s)
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n, nil
}
