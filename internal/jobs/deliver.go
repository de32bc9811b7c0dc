package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/models"
	"github.com/garnizeh/mar/pkg/repository"
)

// TypeWebhookDeliver re-sends a completed submission to the webhook.
const TypeWebhookDeliver = "webhook.deliver"

// DeliverPayload is the payload of a webhook.deliver job.
type DeliverPayload struct {
	SubmissionID string `json:"submission_id"`
}

// Sender delivers one submission.
type Sender interface {
	Send(ctx context.Context, submissionID string) delivery.Result
}

// DeliverHandler sends the submission named in the payload. A rejected or
// failed delivery is returned as an error so the pool retries it.
func DeliverHandler(s Sender) Handler {
	return func(ctx context.Context, j *models.BackgroundJob) error {
		var p DeliverPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if p.SubmissionID == "" {
			return Permanent(errors.New("payload without submission_id"))
		}

		res := s.Send(ctx, p.SubmissionID)
		if res.Success {
			return nil
		}
		switch res.Message {
		case delivery.MsgSubmissionNotFound, delivery.MsgNotCompleted:
			return Permanent(errors.New(res.Message))
		}
		return errors.New(res.Message)
	}
}

// EnqueuePendingDeliveries queues a webhook.deliver job for every completed
// submission not yet delivered and returns the queued submission ids.
func EnqueuePendingDeliveries(ctx context.Context, subs repository.SubmissionRepo, jobRepo repository.JobRepo, limit, maxAttempts int) ([]string, error) {
	pending, err := subs.ListPendingWebhook(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	ids := make([]string, 0, len(pending))
	for _, s := range pending {
		if _, err := Enqueue(ctx, jobRepo, TypeWebhookDeliver, DeliverPayload{SubmissionID: s.ID}, 10, maxAttempts); err != nil {
			return ids, fmt.Errorf("enqueue %s: %w", s.ID, err)
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}
