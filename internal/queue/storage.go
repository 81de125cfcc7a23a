// Package queue is the client-side durable queue of submissions that have
// not yet been acknowledged by the server.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicate is returned by Append when the owner already has an item
	// with the same idempotency key.
	ErrDuplicate = errors.New("submission already queued")
	// ErrNotQueued is returned when no item matches the owner and key.
	ErrNotQueued = errors.New("submission not queued")
	// ErrInFlight is returned by Claim and Withdraw while another sender,
	// possibly in another process, holds a live claim on the item.
	ErrInFlight = errors.New("submission is being sent")
)

// Item is one queued submission. Payload is the exact JSON document that is
// sent to the server, so a replay is byte-identical to the original attempt.
type Item struct {
	Seq            int64
	Owner          string
	IdempotencyKey string
	Payload        []byte
	EnqueuedAt     time.Time
	// ClaimedAt is when a sender claimed the item, zero when idle.
	ClaimedAt time.Time
}

// Storage persists queue items. Items are appended and removed, never
// updated in place.
type Storage interface {
	// Append durably stores item. It returns only after the write is
	// committed.
	Append(ctx context.Context, item Item) error
	// Pending returns the owner's items in enqueue order.
	Pending(ctx context.Context, owner string) ([]Item, error)
	// Remove deletes the item whether or not it is claimed. Only the
	// claimant calls it, after a definitive server outcome.
	Remove(ctx context.Context, owner, key string) error
	// Claim marks the item as being sent at at. A claim made before
	// staleBefore is abandoned and taken over. It returns ErrNotQueued when
	// the item is gone and ErrInFlight when a live claim exists.
	Claim(ctx context.Context, owner, key string, at, staleBefore time.Time) error
	// Release clears a claim. Releasing a missing item is not an error.
	Release(ctx context.Context, owner, key string) error
	// Withdraw deletes an item that holds no live claim, returning
	// ErrInFlight or ErrNotQueued otherwise.
	Withdraw(ctx context.Context, owner, key string, staleBefore time.Time) error
	// Purge removes every item of owner and reports how many were removed.
	Purge(ctx context.Context, owner string) (int, error)
	// Owners lists every owner with at least one queued item.
	Owners(ctx context.Context) ([]string, error)
}
