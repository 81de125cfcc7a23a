package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	pq "github.com/lib/pq"

	"github.com/julianstephens/ptlog/internal/commit"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/models"
)

const (
	uniqueViolation       = "23505"
	insufficientPrivilege = "42501"
	idempotencyConstraint = "activity_logs_idempotency_key_uq"
)

// Begin opens a transaction and records callerID as the transaction-local
// ptlog.caller_id setting. Row policies read it, so every statement runs with
// the caller's own rights rather than the service role's.
func (s *Store) Begin(ctx context.Context, callerID string) (commit.Tx, error) {
	if callerID == "" {
		return nil, errors.New("caller identity is required")
	}

	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := t.ExecContext(ctx, "SELECT set_config('ptlog.caller_id', $1, true)", callerID); err != nil {
		_ = t.Rollback()
		return nil, fmt.Errorf("failed to set caller identity: %w", err)
	}
	return &tx{tx: t, callerID: callerID}, nil
}

type tx struct {
	tx       *sql.Tx
	callerID string
}

func (t *tx) Commit() error   { return t.tx.Commit() }
func (t *tx) Rollback() error { return t.tx.Rollback() }

func (t *tx) InsertHeader(ctx context.Context, log models.ActivityLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, patient_id, submitted_by, exercise_id, exercise_name, notes, performed_at, created_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.PatientID, log.SubmittedBy, log.ExerciseID, log.ExerciseName,
		nullString(log.Notes), log.PerformedAt.UTC(), log.CreatedAt.UTC(), log.IdempotencyKey,
	)
	if isIdempotencyConflict(err) {
		return &apperrors.ConflictError{IdempotencyKey: log.IdempotencyKey}
	}
	return t.refused(err, log.PatientID)
}

func (t *tx) InsertSets(ctx context.Context, logID string, sets []models.ActivitySet) ([]commit.InsertedSet, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(sets)*7)
	)
	sb.WriteString("INSERT INTO activity_sets (activity_log_id, set_number, reps, seconds, distance, side, manual_entry) VALUES ")
	for i, set := range sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, logID, set.SetNumber, set.Reps, set.Seconds, set.Distance, nullSide(set.Side), set.ManualEntry)
	}
	// Postgres does not promise RETURNING rows in VALUES order
	sb.WriteString(" RETURNING id, set_number")

	rows, err := t.tx.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, t.refused(err, "")
	}
	defer rows.Close()

	inserted := make([]commit.InsertedSet, 0, len(sets))
	for rows.Next() {
		var row commit.InsertedSet
		if err := rows.Scan(&row.ID, &row.SetNumber); err != nil {
			return nil, err
		}
		inserted = append(inserted, row)
	}
	return inserted, rows.Err()
}

func (t *tx) InsertParameters(ctx context.Context, setID int64, params []models.SetParameter) error {
	if len(params) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(params)*4)
	)
	sb.WriteString("INSERT INTO set_parameters (activity_set_id, name, value, unit) VALUES ")
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, setID, p.Name, p.Value, p.Unit)
	}

	_, err := t.tx.ExecContext(ctx, sb.String(), args...)
	return t.refused(err, "")
}

func (t *tx) LockHeader(ctx context.Context, id string) (models.ActivityLog, error) {
	row := t.tx.QueryRowContext(ctx, selectHeader+" WHERE id = $1 FOR UPDATE", id)
	log, err := scanHeader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityLog{}, apperrors.ErrNotFound
	}
	return log, err
}

func (t *tx) UpdateHeader(ctx context.Context, log models.ActivityLog) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE activity_logs
		SET exercise_id = $1, exercise_name = $2, notes = $3, performed_at = $4, updated_at = now()
		WHERE id = $5`,
		log.ExerciseID, log.ExerciseName, nullString(log.Notes), log.PerformedAt.UTC(), log.ID,
	)
	if err != nil {
		return t.refused(err, log.PatientID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteParameters(ctx context.Context, logID string) (int64, error) {
	return t.exec(ctx, `
		DELETE FROM set_parameters
		WHERE activity_set_id IN (SELECT id FROM activity_sets WHERE activity_log_id = $1)`, logID)
}

func (t *tx) DeleteSets(ctx context.Context, logID string) (int64, error) {
	return t.exec(ctx, "DELETE FROM activity_sets WHERE activity_log_id = $1", logID)
}

func (t *tx) DeleteHeader(ctx context.Context, logID string) (int64, error) {
	return t.exec(ctx, "DELETE FROM activity_logs WHERE id = $1", logID)
}

func (t *tx) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, t.refused(err, "")
	}
	return res.RowsAffected()
}

// refused turns a row policy violation into an AuthorizationError so it is
// reported like the service's own refusals. Other errors pass through.
func (t *tx) refused(err error, patientID string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != insufficientPrivilege {
		return err
	}
	return &apperrors.AuthorizationError{
		CallerID:  t.callerID,
		PatientID: patientID,
		Reason:    "refused by row security policy",
	}
}

// isIdempotencyConflict reports whether err is the unique violation raised by
// the idempotency key constraint specifically.
func isIdempotencyConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == idempotencyConstraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullSide(side models.Side) sql.NullString {
	return sql.NullString{String: string(side), Valid: side != models.SideUnspecified}
}
