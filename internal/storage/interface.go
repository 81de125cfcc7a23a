package storage

import (
	"context"
	"errors"

	"github.com/julianstephens/ptlog/internal/commit"
	"github.com/julianstephens/ptlog/internal/models"
)

// ErrExerciseNotFound is returned by GetExercise for an unknown id.
var ErrExerciseNotFound = errors.New("exercise not found")

// Provider is the server-side store behind the entry handler.
type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error

	// Transactions for the commit procedure
	commit.Beginner

	// Exercises
	AddExercise(ctx context.Context, ex models.Exercise) error
	GetExercise(ctx context.Context, id string) (models.Exercise, error)
	SetExerciseActive(ctx context.Context, id string, active bool) error

	// Care relationships
	GrantRelationship(ctx context.Context, caregiverID, patientID string) error
	RevokeRelationship(ctx context.Context, caregiverID, patientID string) error
	HasActiveRelationship(ctx context.Context, caregiverID, patientID string) (bool, error)

	// Activity logs. Writes go through commit.Beginner only.
	GetActivityLog(ctx context.Context, id string) (models.ActivityLog, error)
	FindByIdempotencyKey(ctx context.Context, key string) (models.ActivityLog, error)

	// Utils
	GetConfigPath() string
}
