package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/queue"
)

// Rejection is a submission the server refused permanently. It has left the
// queue and must be shown to the user.
type Rejection struct {
	IdempotencyKey string
	Status         int
	Error          *models.ErrorBody
	Payload        []byte
}

func newRejection(key string, payload []byte, res Result) Rejection {
	return Rejection{
		IdempotencyKey: key,
		Status:         res.Status,
		Error:          res.Error,
		Payload:        payload,
	}
}

// Message is a one-line description for the user.
func (r Rejection) Message() string {
	if r.Error == nil {
		return fmt.Sprintf("server returned %d %s", r.Status, http.StatusText(r.Status))
	}
	msg := r.Error.Message
	for _, f := range r.Error.Fields {
		msg += "; " + f.Field + ": " + f.Message
	}
	return msg
}

// Report summarises one replay pass.
type Report struct {
	Committed []string
	Duplicate []string
	Rejected  []Rejection
	// Remaining is the number of items still queued after the pass.
	Remaining int
	// StoppedAt is the key of the item whose retryable failure ended the
	// pass, empty when the queue drained.
	StoppedAt string
	LastError error
}

// Sent is the number of items that left the queue during the pass.
func (r Report) Sent() int {
	return len(r.Committed) + len(r.Duplicate) + len(r.Rejected)
}

type Replayer struct {
	client   *Client
	queue    *queue.Queue
	onReject func(Rejection)
}

type ReplayerOption func(*Replayer)

func WithRejectionHandler(fn func(Rejection)) ReplayerOption {
	return func(r *Replayer) { r.onReject = fn }
}

func NewReplayer(c *Client, q *queue.Queue, opts ...ReplayerOption) *Replayer {
	r := &Replayer{client: c, queue: q}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replay sends queued items oldest first. It stops at the first retryable
// failure, or at an item another sender holds, so that no later item
// overtakes it. Items withdrawn after the snapshot are skipped. An item is
// removed only after a definitive outcome for its own key.
func (r *Replayer) Replay(ctx context.Context) (Report, error) {
	var report Report

	items, err := r.queue.Pending(ctx)
	if err != nil {
		return report, err
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report.Remaining = len(items) - i
			return report, err
		}
		switch err := r.queue.Claim(ctx, item.IdempotencyKey); {
		case errors.Is(err, queue.ErrNotQueued):
			// withdrawn since the snapshot
			logger.Debug("Skipping withdrawn submission", "key", item.IdempotencyKey)
			continue
		case errors.Is(err, queue.ErrInFlight):
			report.StoppedAt = item.IdempotencyKey
			report.Remaining = len(items) - i
			return report, nil
		case err != nil:
			report.Remaining = len(items) - i
			return report, err
		}

		res := r.client.Submit(ctx, item.Owner, item.Payload)

		if !res.Outcome.Definitive() {
			r.queue.Release(ctx, item.IdempotencyKey)
			report.StoppedAt = item.IdempotencyKey
			report.LastError = res.Err
			report.Remaining = len(items) - i
			logger.Info("Replay paused", "key", item.IdempotencyKey, "status", res.Status, "error", res.Err)
			return report, nil
		}

		if err := r.queue.Remove(ctx, item.IdempotencyKey); err != nil {
			r.queue.Release(ctx, item.IdempotencyKey)
			report.Remaining = len(items) - i
			return report, err
		}

		switch res.Outcome {
		case OutcomeCommitted:
			report.Committed = append(report.Committed, item.IdempotencyKey)
		case OutcomeDuplicate:
			report.Duplicate = append(report.Duplicate, item.IdempotencyKey)
		case OutcomeRejected:
			rej := newRejection(item.IdempotencyKey, item.Payload, res)
			report.Rejected = append(report.Rejected, rej)
			logger.Warn("Queued submission rejected", "key", item.IdempotencyKey, "status", res.Status, "reason", rej.Message())
			if r.onReject != nil {
				r.onReject(rej)
			}
		}
	}
	return report, nil
}

// Watch replays immediately and then every interval until ctx is done.
// onReport, when set, receives every pass that sent something or failed.
func (r *Replayer) Watch(ctx context.Context, interval time.Duration, onReport func(Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := r.Replay(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("Replay failed", "error", err)
		}
		if onReport != nil && (report.Sent() > 0 || report.LastError != nil) {
			onReport(report)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
