package sqlite

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
		INSERT INTO exercises (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		ex.ID, ex.Name, boolToInt(ex.Active))
	if err != nil {
		return fmt.Errorf("failed to save exercise: %w", err)
	}
	return nil
}

func (s *Store) GetExercise(ctx context.Context, id string) (models.Exercise, error) {
	var (
		ex     models.Exercise
		active int
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, active FROM exercises WHERE id = ?", id).Scan(&ex.ID, &ex.Name, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Exercise{}, storage.ErrExerciseNotFound
	}
	if err != nil {
		return models.Exercise{}, fmt.Errorf("failed to load exercise: %w", err)
	}
	ex.Active = active != 0
	return ex, nil
}

func (s *Store) SetExerciseActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE exercises SET active = ? WHERE id = ?", boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update exercise: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrExerciseNotFound
	}
	return nil
}

// GrantRelationship records (or reinstates) caregiverID's right to submit
// for patientID.
func (s *Store) GrantRelationship(ctx context.Context, caregiverID, patientID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO care_relationships (caregiver_id, patient_id, can_submit, granted_at, revoked_at)
		VALUES (?, ?, 1, ?, NULL)
		ON CONFLICT(caregiver_id, patient_id) DO UPDATE SET can_submit = 1, granted_at = excluded.granted_at, revoked_at = NULL`,
		caregiverID, patientID, formatTime(timeNow()))
	if err != nil {
		return fmt.Errorf("failed to grant relationship: %w", err)
	}
	return nil
}

func (s *Store) RevokeRelationship(ctx context.Context, caregiverID, patientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE care_relationships SET revoked_at = ?
		WHERE caregiver_id = ? AND patient_id = ? AND revoked_at IS NULL`,
		formatTime(timeNow()), caregiverID, patientID)
	if err != nil {
		return fmt.Errorf("failed to revoke relationship: %w", err)
	}
	return nil
}

func (s *Store) HasActiveRelationship(ctx context.Context, caregiverID, patientID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM care_relationships
		WHERE caregiver_id = ? AND patient_id = ? AND can_submit = 1 AND revoked_at IS NULL`,
		caregiverID, patientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check relationship: %w", err)
	}
	return n > 0, nil
}
