// Package commit writes an activity log header, its sets and each set's
// parameter entries inside a single transaction.
//
// Sets are inserted first and the storage layer reports back (ID, SetNumber)
// pairs in whatever order it likes. Parameter rows are attached through a
// set_number -> ID map built from that report, never by array position.
// Any failure rolls back every row written so far, so an idempotency key is
// only consumed by a fully populated header.
package commit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
)

// InsertedSet is one row reported back by Tx.InsertSets.
type InsertedSet struct {
	ID        int64
	SetNumber int
}

// Tx is one open transaction against the server store. Implementations only
// issue statements; Commit and Rollback are driven by this package.
//
// InsertHeader must return *errors.ConflictError when the idempotency key
// unique constraint rejects the row. LockHeader must return errors.ErrNotFound
// when the header does not exist.
type Tx interface {
	InsertHeader(ctx context.Context, log models.ActivityLog) error
	InsertSets(ctx context.Context, logID string, sets []models.ActivitySet) ([]InsertedSet, error)
	InsertParameters(ctx context.Context, setID int64, params []models.SetParameter) error

	LockHeader(ctx context.Context, id string) (models.ActivityLog, error)
	UpdateHeader(ctx context.Context, log models.ActivityLog) error
	DeleteParameters(ctx context.Context, logID string) (int64, error)
	DeleteSets(ctx context.Context, logID string) (int64, error)
	DeleteHeader(ctx context.Context, logID string) (int64, error)

	Commit() error
	Rollback() error
}

// Beginner opens transactions that run with the invoking caller's own rights.
type Beginner interface {
	Begin(ctx context.Context, callerID string) (Tx, error)
}

// Guard inspects the locked header before an edit or delete proceeds.
type Guard func(existing models.ActivityLog) error

// Create inserts log and its full child graph. log.ID must already be set.
func Create(ctx context.Context, b Beginner, callerID string, log models.ActivityLog) (models.Receipt, error) {
	const op = "create"
	if len(log.Sets) == 0 {
		return models.Receipt{}, &apperrors.CommitError{Op: op, Err: errors.New("activity log has no sets")}
	}

	tx, err := b.Begin(ctx, callerID)
	if err != nil {
		return models.Receipt{}, &apperrors.CommitError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer rollback(tx, op)

	if err := tx.InsertHeader(ctx, log); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("insert header: %w", err))
	}
	if err := writeChildren(ctx, tx, log.ID, log.Sets); err != nil {
		return models.Receipt{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("commit: %w", err))
	}

	logger.Debug("activity log committed", "id", log.ID, "key", log.IdempotencyKey, "sets", len(log.Sets))
	return models.Receipt{ID: log.ID, SetsCommitted: len(log.Sets)}, nil
}

// Replace swaps the entire child graph of an existing header for log.Sets
// and updates the mutable header fields, all in one transaction.
func Replace(ctx context.Context, b Beginner, callerID string, log models.ActivityLog, guard Guard) (models.Receipt, error) {
	const op = "edit"
	if len(log.Sets) == 0 {
		return models.Receipt{}, &apperrors.CommitError{Op: op, Err: errors.New("activity log has no sets")}
	}

	tx, err := b.Begin(ctx, callerID)
	if err != nil {
		return models.Receipt{}, &apperrors.CommitError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer rollback(tx, op)

	existing, err := tx.LockHeader(ctx, log.ID)
	if err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("lock header: %w", err))
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return models.Receipt{}, classify(op, err)
		}
	}

	// Identity, ownership and idempotency key never change on edit
	log.PatientID = existing.PatientID
	log.SubmittedBy = existing.SubmittedBy
	log.IdempotencyKey = existing.IdempotencyKey
	log.CreatedAt = existing.CreatedAt

	if err := tx.UpdateHeader(ctx, log); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("update header: %w", err))
	}
	if _, err := tx.DeleteParameters(ctx, log.ID); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("delete parameters: %w", err))
	}
	if _, err := tx.DeleteSets(ctx, log.ID); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("delete sets: %w", err))
	}
	if err := writeChildren(ctx, tx, log.ID, log.Sets); err != nil {
		return models.Receipt{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Receipt{}, classify(op, fmt.Errorf("commit: %w", err))
	}

	logger.Debug("activity log replaced", "id", log.ID, "sets", len(log.Sets))
	return models.Receipt{ID: log.ID, SetsCommitted: len(log.Sets)}, nil
}

// Delete removes a header and all of its children in one transaction.
func Delete(ctx context.Context, b Beginner, callerID, id string, guard Guard) error {
	const op = "delete"

	tx, err := b.Begin(ctx, callerID)
	if err != nil {
		return &apperrors.CommitError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer rollback(tx, op)

	existing, err := tx.LockHeader(ctx, id)
	if err != nil {
		return classify(op, fmt.Errorf("lock header: %w", err))
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return classify(op, err)
		}
	}

	if _, err := tx.DeleteParameters(ctx, id); err != nil {
		return classify(op, fmt.Errorf("delete parameters: %w", err))
	}
	if _, err := tx.DeleteSets(ctx, id); err != nil {
		return classify(op, fmt.Errorf("delete sets: %w", err))
	}
	n, err := tx.DeleteHeader(ctx, id)
	if err != nil {
		return classify(op, fmt.Errorf("delete header: %w", err))
	}
	if n != 1 {
		return classify(op, fmt.Errorf("delete header: %w", apperrors.ErrNotFound))
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("commit: %w", err))
	}

	logger.Debug("activity log deleted", "id", id)
	return nil
}

func writeChildren(ctx context.Context, tx Tx, logID string, sets []models.ActivitySet) error {
	inserted, err := tx.InsertSets(ctx, logID, sets)
	if err != nil {
		return fmt.Errorf("insert sets: %w", err)
	}

	ids, err := mapSetNumbers(sets, inserted)
	if err != nil {
		return err
	}

	for _, set := range sets {
		if len(set.Parameters) == 0 {
			continue
		}
		if err := tx.InsertParameters(ctx, ids[set.SetNumber], set.Parameters); err != nil {
			return fmt.Errorf("insert parameters for set %d: %w", set.SetNumber, err)
		}
	}
	return nil
}

// mapSetNumbers builds set_number -> generated ID and checks that the storage
// report covers every submitted set exactly once.
func mapSetNumbers(sets []models.ActivitySet, inserted []InsertedSet) (map[int]int64, error) {
	if len(inserted) != len(sets) {
		return nil, fmt.Errorf("insert sets: storage reported %d rows for %d sets", len(inserted), len(sets))
	}

	ids := make(map[int]int64, len(inserted))
	for _, row := range inserted {
		if _, dup := ids[row.SetNumber]; dup {
			return nil, fmt.Errorf("insert sets: set_number %d reported twice", row.SetNumber)
		}
		ids[row.SetNumber] = row.ID
	}
	for _, set := range sets {
		if _, ok := ids[set.SetNumber]; !ok {
			return nil, fmt.Errorf("insert sets: no row reported for set_number %d", set.SetNumber)
		}
	}
	return ids, nil
}

// classify passes through errors the caller maps to their own responses and
// wraps everything else as a CommitError.
func classify(op string, err error) error {
	var (
		ce *apperrors.ConflictError
		ae *apperrors.AuthorizationError
		ve *apperrors.ValidationError
	)
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.As(err, &ae):
		return ae
	case errors.As(err, &ve):
		return ve
	case errors.Is(err, apperrors.ErrNotFound):
		return apperrors.ErrNotFound
	}
	return &apperrors.CommitError{Op: op, Err: err}
}

func rollback(tx Tx, op string) {
	// Rollback after a successful Commit reports sql.ErrTxDone
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn("rollback failed", "op", op, "error", err)
	}
}
