package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/queue"
)

// Sender is the online submission path.
type Sender struct {
	client     *Client
	queue      *queue.Queue
	queueFirst bool
	onReject   func(Rejection)
}

type SenderOption func(*Sender)

// WithQueueFirst persists every submission before the first attempt.
func WithQueueFirst(enabled bool) SenderOption {
	return func(s *Sender) { s.queueFirst = enabled }
}

// WithSenderRejectionHandler is called for every permanently rejected
// submission.
func WithSenderRejectionHandler(fn func(Rejection)) SenderOption {
	return func(s *Sender) { s.onReject = fn }
}

func NewSender(c *Client, q *queue.Queue, opts ...SenderOption) *Sender {
	s := &Sender{client: c, queue: q}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendResult reports what happened to one submission.
type SendResult struct {
	Result
	IdempotencyKey string
	// Queued is true when the submission is in the durable queue awaiting
	// replay.
	Queued bool
}

// Send assigns an idempotency key when sub has none, encodes it once and
// attempts delivery. A retryable failure leaves the exact encoded payload
// in the queue. A QueuePersistenceError means the submission exists nowhere
// but in sub. With queue-first, ErrNotQueued means the item left the queue
// before this attempt could claim it.
func (s *Sender) Send(ctx context.Context, sub models.Submission) (SendResult, error) {
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = uuid.NewString()
	}
	key := sub.IdempotencyKey

	payload, err := json.Marshal(sub)
	if err != nil {
		return SendResult{IdempotencyKey: key}, fmt.Errorf("failed to encode submission: %w", err)
	}

	queued := false
	if s.queueFirst {
		if err := s.queue.Enqueue(ctx, key, payload); err != nil && !errors.Is(err, queue.ErrDuplicate) {
			return SendResult{IdempotencyKey: key}, err
		}
		queued = true

		switch err := s.queue.Claim(ctx, key); {
		case errors.Is(err, queue.ErrNotQueued):
			// delivered by a concurrent replay, or withdrawn
			return SendResult{IdempotencyKey: key}, fmt.Errorf("submission %s left the queue before it was sent: %w", key, err)
		case errors.Is(err, queue.ErrInFlight):
			// a replay is already sending this key
			return SendResult{Result: Result{Outcome: OutcomeRetry}, IdempotencyKey: key, Queued: true}, nil
		case err != nil:
			logger.Warn("Failed to claim queued submission", "key", key, "error", err)
			return SendResult{Result: Result{Outcome: OutcomeRetry, Err: err}, IdempotencyKey: key, Queued: true}, nil
		}
	}
	res := s.client.Submit(ctx, s.queue.Owner(), payload)

	out := SendResult{Result: res, IdempotencyKey: key}
	if res.Outcome.Definitive() {
		if queued {
			if err := s.queue.Remove(ctx, key); err != nil {
				// the next replay resolves it as a duplicate
				logger.Warn("Failed to remove delivered submission", "key", key, "error", err)
			}
		}
		if res.Outcome == OutcomeRejected && s.onReject != nil {
			s.onReject(newRejection(key, payload, res))
		}
		logger.Info("Submission delivered", "key", key, "outcome", res.Outcome.String())
		return out, nil
	}

	if queued {
		s.queue.Release(ctx, key)
	} else if err := s.queue.Enqueue(ctx, key, payload); err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return out, err
	}
	out.Queued = true
	logger.Info("Submission queued for replay", "key", key, "status", res.Status, "error", res.Err)
	return out, nil
}
