package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/julianstephens/ptlog/internal/constants"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
)

// Queue is the view of a Storage for one signed-in identity. Items of other
// owners are never returned or replayed.
type Queue struct {
	storage Storage
	owner   string
	now     func() time.Time
	lease   time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(storage Storage, owner string) *Queue {
	return &Queue{
		storage:  storage,
		owner:    owner,
		now:      time.Now,
		lease:    constants.ClaimLease,
		inFlight: make(map[string]bool),
	}
}

func (q *Queue) Owner() string {
	return q.owner
}

// Enqueue durably appends payload under key. A storage failure is returned
// as a QueuePersistenceError; the caller still holds the only copy and must
// keep it. Enqueueing a key that is already queued returns ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, key string, payload []byte) error {
	err := q.storage.Append(ctx, Item{
		Owner:          q.owner,
		IdempotencyKey: key,
		Payload:        payload,
		EnqueuedAt:     q.now(),
	})
	switch {
	case err == nil:
		logger.Debug("Submission queued", "key", key, "owner", q.owner)
		return nil
	case errors.Is(err, ErrDuplicate):
		return err
	default:
		logger.Error("Failed to queue submission", "key", key, "error", err)
		return &apperrors.QueuePersistenceError{IdempotencyKey: key, Err: err}
	}
}

func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	return q.storage.Pending(ctx, q.owner)
}

// Remove drops an item after a definitive server outcome and ends the
// claim on it. Removing an item that is already gone is not an error.
func (q *Queue) Remove(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, key)
	err := q.storage.Remove(ctx, q.owner, key)
	if errors.Is(err, ErrNotQueued) {
		return nil
	}
	return err
}

// Withdraw cancels an unsent item at the user's request. It returns
// ErrInFlight while any sender, in this process or another, holds a live
// claim on the item.
func (q *Queue) Withdraw(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[key] {
		return ErrInFlight
	}
	return q.storage.Withdraw(ctx, q.owner, key, q.now().Add(-q.lease))
}

// Claim marks a queued item as being sent. The claim is recorded in storage
// so other processes see it. It returns ErrNotQueued when the item has left
// the queue, e.g. withdrawn since it was listed, and ErrInFlight when
// another sender holds it.
func (q *Queue) Claim(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[key] {
		return ErrInFlight
	}
	now := q.now()
	if err := q.storage.Claim(ctx, q.owner, key, now, now.Add(-q.lease)); err != nil {
		return err
	}
	q.inFlight[key] = true
	return nil
}

// Release ends a claim without removing the item. A failed release is
// logged; the stored claim then lapses after the lease.
func (q *Queue) Release(ctx context.Context, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, key)
	// a cancelled replay still clears its claim
	if err := q.storage.Release(context.WithoutCancel(ctx), q.owner, key); err != nil {
		logger.Warn("Failed to release queued submission", "key", key, "error", err)
	}
}
