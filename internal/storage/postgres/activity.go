package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/models"
)

const selectHeader = `
	SELECT id, patient_id, submitted_by, exercise_id, exercise_name, notes, performed_at, created_at, updated_at, idempotency_key
	FROM activity_logs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHeader(row scanner) (models.ActivityLog, error) {
	var (
		log       models.ActivityLog
		notes     sql.NullString
		updatedAt sql.NullTime
	)
	if err := row.Scan(&log.ID, &log.PatientID, &log.SubmittedBy, &log.ExerciseID, &log.ExerciseName,
		&notes, &log.PerformedAt, &log.CreatedAt, &updatedAt, &log.IdempotencyKey); err != nil {
		return models.ActivityLog{}, err
	}
	log.Notes = notes.String
	log.PerformedAt = log.PerformedAt.UTC()
	log.CreatedAt = log.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		log.UpdatedAt = &t
	}
	return log, nil
}

func (s *Store) GetActivityLog(ctx context.Context, id string) (models.ActivityLog, error) {
	return s.getActivityLog(ctx, selectHeader+" WHERE id = $1", id)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.ActivityLog, error) {
	return s.getActivityLog(ctx, selectHeader+" WHERE idempotency_key = $1", key)
}

func (s *Store) getActivityLog(ctx context.Context, query, arg string) (models.ActivityLog, error) {
	log, err := scanHeader(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityLog{}, apperrors.ErrNotFound
	}
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("failed to load activity log: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.set_number, s.reps, s.seconds, s.distance, s.side, s.manual_entry,
		       p.id, p.name, p.value, p.unit
		FROM activity_sets s
		LEFT JOIN set_parameters p ON p.activity_set_id = s.id
		WHERE s.activity_log_id = $1
		ORDER BY s.set_number, p.id`, log.ID)
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("failed to load sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			set       models.ActivitySet
			reps      sql.NullInt64
			seconds   sql.NullInt64
			distance  sql.NullFloat64
			side      sql.NullString
			paramID   sql.NullInt64
			paramName sql.NullString
			value     sql.NullString
			unit      sql.NullString
		)
		if err := rows.Scan(&set.ID, &set.SetNumber, &reps, &seconds, &distance, &side, &set.ManualEntry,
			&paramID, &paramName, &value, &unit); err != nil {
			return models.ActivityLog{}, err
		}

		// Rows arrive grouped by set; start a new set when the id changes
		if n := len(log.Sets); n == 0 || log.Sets[n-1].ID != set.ID {
			set.ActivityLogID = log.ID
			if reps.Valid {
				v := int(reps.Int64)
				set.Reps = &v
			}
			if seconds.Valid {
				v := int(seconds.Int64)
				set.Seconds = &v
			}
			if distance.Valid {
				v := distance.Float64
				set.Distance = &v
			}
			set.Side = models.Side(side.String)
			log.Sets = append(log.Sets, set)
		}

		if paramID.Valid {
			last := &log.Sets[len(log.Sets)-1]
			last.Parameters = append(last.Parameters, models.SetParameter{
				ID:            paramID.Int64,
				ActivitySetID: last.ID,
				Name:          paramName.String,
				Value:         value.String,
				Unit:          unit.String,
			})
		}
	}
	return log, rows.Err()
}
