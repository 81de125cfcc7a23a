package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/julianstephens/ptlog/internal/commit"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
)

const setColumns = 7

// Begin opens a write transaction. SQLite has no row policies, so callerID
// is only recorded for logging; authorization happens before the commit
// procedure runs.
func (s *Store) Begin(ctx context.Context, callerID string) (commit.Tx, error) {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	logger.Debug("sqlite transaction opened", "caller", callerID)
	return &tx{tx: t}, nil
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) Commit() error   { return t.tx.Commit() }
func (t *tx) Rollback() error { return t.tx.Rollback() }

func (t *tx) InsertHeader(ctx context.Context, log models.ActivityLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, patient_id, submitted_by, exercise_id, exercise_name, notes, performed_at, created_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.PatientID, log.SubmittedBy, log.ExerciseID, log.ExerciseName,
		nullString(log.Notes), formatTime(log.PerformedAt), formatTime(log.CreatedAt), log.IdempotencyKey,
	)
	if isIdempotencyConflict(err) {
		return &apperrors.ConflictError{IdempotencyKey: log.IdempotencyKey}
	}
	return err
}

func (t *tx) InsertSets(ctx context.Context, logID string, sets []models.ActivitySet) ([]commit.InsertedSet, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(sets)*setColumns)
	)
	sb.WriteString("INSERT INTO activity_sets (activity_log_id, set_number, reps, seconds, distance, side, manual_entry) VALUES ")
	for i, set := range sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, logID, set.SetNumber, set.Reps, set.Seconds, set.Distance, nullSide(set.Side), boolToInt(set.ManualEntry))
	}
	// RETURNING row order is unspecified in SQLite
	sb.WriteString(" RETURNING id, set_number")

	rows, err := t.tx.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inserted, nil
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
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, setID, p.Name, p.Value, p.Unit)
	}

	_, err := t.tx.ExecContext(ctx, sb.String(), args...)
	return err
}

func (t *tx) LockHeader(ctx context.Context, id string) (models.ActivityLog, error) {
	// The single pooled connection already serializes writers
	row := t.tx.QueryRowContext(ctx, selectHeader+" WHERE id = ?", id)
	log, err := scanHeader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityLog{}, apperrors.ErrNotFound
	}
	return log, err
}

func (t *tx) UpdateHeader(ctx context.Context, log models.ActivityLog) error {
	now := formatTime(timeNow())
	res, err := t.tx.ExecContext(ctx, `
		UPDATE activity_logs
		SET exercise_id = ?, exercise_name = ?, notes = ?, performed_at = ?, updated_at = ?
		WHERE id = ?`,
		log.ExerciseID, log.ExerciseName, nullString(log.Notes), formatTime(log.PerformedAt), now, log.ID,
	)
	if err != nil {
		return err
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
		WHERE activity_set_id IN (SELECT id FROM activity_sets WHERE activity_log_id = ?)`, logID)
}

func (t *tx) DeleteSets(ctx context.Context, logID string) (int64, error) {
	return t.exec(ctx, "DELETE FROM activity_sets WHERE activity_log_id = ?", logID)
}

func (t *tx) DeleteHeader(ctx context.Context, logID string) (int64, error) {
	return t.exec(ctx, "DELETE FROM activity_logs WHERE id = ?", logID)
}

func (t *tx) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isIdempotencyConflict reports whether err is the unique violation on
// activity_logs.idempotency_key. Other unique violations are not conflicts.
func isIdempotencyConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(se.Error(), "activity_logs.idempotency_key")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullSide(side models.Side) sql.NullString {
	return sql.NullString{String: string(side), Valid: side != models.SideUnspecified}
}
