package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/storage"
)

func (s *Store) AddExercise(ctx context.Context, ex models.Exercise) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exercises (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active`,
		ex.ID, ex.Name, ex.Active)
	if err != nil {
		return fmt.Errorf("failed to save exercise: %w", err)
	}
	return nil
}

func (s *Store) GetExercise(ctx context.Context, id string) (models.Exercise, error) {
	var ex models.Exercise
	err := s.db.QueryRowContext(ctx, "SELECT id, name, active FROM exercises WHERE id = $1", id).Scan(&ex.ID, &ex.Name, &ex.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Exercise{}, storage.ErrExerciseNotFound
	}
	if err != nil {
		return models.Exercise{}, fmt.Errorf("failed to load exercise: %w", err)
	}
	return ex, nil
}

func (s *Store) SetExerciseActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE exercises SET active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("failed to update exercise: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrExerciseNotFound
	}
	return nil
}

func (s *Store) GrantRelationship(ctx context.Context, caregiverID, patientID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO care_relationships (caregiver_id, patient_id, can_submit, granted_at, revoked_at)
		VALUES ($1, $2, TRUE, now(), NULL)
		ON CONFLICT (caregiver_id, patient_id) DO UPDATE SET can_submit = TRUE, granted_at = now(), revoked_at = NULL`,
		caregiverID, patientID)
	if err != nil {
		return fmt.Errorf("failed to grant relationship: %w", err)
	}
	return nil
}

func (s *Store) RevokeRelationship(ctx context.Context, caregiverID, patientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE care_relationships SET revoked_at = now()
		WHERE caregiver_id = $1 AND patient_id = $2 AND revoked_at IS NULL`,
		caregiverID, patientID)
	if err != nil {
		return fmt.Errorf("failed to revoke relationship: %w", err)
	}
	return nil
}

func (s *Store) HasActiveRelationship(ctx context.Context, caregiverID, patientID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM care_relationships
			WHERE caregiver_id = $1 AND patient_id = $2 AND can_submit AND revoked_at IS NULL
		)`, caregiverID, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check relationship: %w", err)
	}
	return ok, nil
}
