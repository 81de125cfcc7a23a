package sqlite

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
		log                    models.ActivityLog
		notes, updatedAt       sql.NullString
		performedAt, createdAt string
	)
	if err := row.Scan(&log.ID, &log.PatientID, &log.SubmittedBy, &log.ExerciseID, &log.ExerciseName,
		&notes, &performedAt, &createdAt, &updatedAt, &log.IdempotencyKey); err != nil {
		return models.ActivityLog{}, err
	}

	var err error
	log.Notes = notes.String
	if log.PerformedAt, err = parseTime(performedAt); err != nil {
		return models.ActivityLog{}, err
	}
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.ActivityLog{}, err
	}
	if updatedAt.Valid {
		t, err := parseTime(updatedAt.String)
		if err != nil {
			return models.ActivityLog{}, err
		}
		log.UpdatedAt = &t
	}
	return log, nil
}

// GetActivityLog returns a header with its sets ordered by set_number and
// each set's parameters.
func (s *Store) GetActivityLog(ctx context.Context, id string) (models.ActivityLog, error) {
	return s.getActivityLog(ctx, selectHeader+" WHERE id = ?", id)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.ActivityLog, error) {
	return s.getActivityLog(ctx, selectHeader+" WHERE idempotency_key = ?", key)
}

func (s *Store) getActivityLog(ctx context.Context, query string, arg string) (models.ActivityLog, error) {
	log, err := scanHeader(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityLog{}, apperrors.ErrNotFound
	}
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("failed to load activity log: %w", err)
	}

	sets, err := s.loadSets(ctx, log.ID)
	if err != nil {
		return models.ActivityLog{}, err
	}
	log.Sets = sets
	return log, nil
}

func (s *Store) loadSets(ctx context.Context, logID string) ([]models.ActivitySet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, set_number, reps, seconds, distance, side, manual_entry
		FROM activity_sets
		WHERE activity_log_id = ?
		ORDER BY set_number`, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sets: %w", err)
	}

	var (
		sets  []models.ActivitySet
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			set      models.ActivitySet
			reps     sql.NullInt64
			seconds  sql.NullInt64
			distance sql.NullFloat64
			side     sql.NullString
			manual   int
		)
		if err := rows.Scan(&set.ID, &set.SetNumber, &reps, &seconds, &distance, &side, &manual); err != nil {
			rows.Close()
			return nil, err
		}
		set.ActivityLogID = logID
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
		set.ManualEntry = manual != 0
		index[set.ID] = len(sets)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	prows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.activity_set_id, p.name, p.value, p.unit
		FROM set_parameters p
		JOIN activity_sets s ON s.id = p.activity_set_id
		WHERE s.activity_log_id = ?
		ORDER BY p.id`, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameters: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var p models.SetParameter
		if err := prows.Scan(&p.ID, &p.ActivitySetID, &p.Name, &p.Value, &p.Unit); err != nil {
			return nil, err
		}
		if i, ok := index[p.ActivitySetID]; ok {
			sets[i].Parameters = append(sets[i].Parameters, p)
		}
	}
	return sets, prows.Err()
}
