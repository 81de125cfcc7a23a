// Package activity is the server entry point for activity log writes. It
// validates a submission, resolves who it is for, checks the caller may act
// for that patient and hands the result to the commit procedure.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/ptlog/internal/commit"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/validation"
)

// Store is the subset of storage.Provider the service needs.
type Store interface {
	commit.Beginner
	validation.ExerciseResolver
	HasActiveRelationship(ctx context.Context, caregiverID, patientID string) (bool, error)
	GetActivityLog(ctx context.Context, id string) (models.ActivityLog, error)
	FindByIdempotencyKey(ctx context.Context, key string) (models.ActivityLog, error)
}

// RelationshipChecker decides whether callerID may submit for patientID.
type RelationshipChecker interface {
	CanSubmitFor(ctx context.Context, callerID, patientID string) (bool, error)
}

// RelationshipFunc adapts a function to RelationshipChecker.
type RelationshipFunc func(ctx context.Context, callerID, patientID string) (bool, error)

func (f RelationshipFunc) CanSubmitFor(ctx context.Context, callerID, patientID string) (bool, error) {
	return f(ctx, callerID, patientID)
}

// storeRelationships consults the care_relationships table.
type storeRelationships struct {
	store Store
}

func (r storeRelationships) CanSubmitFor(ctx context.Context, callerID, patientID string) (bool, error) {
	return r.store.HasActiveRelationship(ctx, callerID, patientID)
}

type Service struct {
	store         Store
	validator     *validation.Validator
	relationships RelationshipChecker
	now           func() time.Time
	newID         func() string
}

type Option func(*Service)

// WithRelationshipChecker replaces the care_relationships lookup.
func WithRelationshipChecker(c RelationshipChecker) Option {
	return func(s *Service) { s.relationships = c }
}

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		validator:     validation.New(store),
		relationships: storeRelationships{store: store},
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates body and commits it as a new activity log on behalf of
// callerID. patient_id defaults to the caller.
func (s *Service) Create(ctx context.Context, callerID string, body []byte) (models.Receipt, error) {
	if callerID == "" {
		return models.Receipt{}, &apperrors.AuthorizationError{Reason: "missing caller identity"}
	}

	parsed, err := s.validator.ValidateCreate(ctx, body)
	if err != nil {
		return models.Receipt{}, err
	}

	patientID := parsed.PatientID
	if patientID == "" {
		patientID = callerID
	}
	if err := s.authorize(ctx, callerID, patientID); err != nil {
		return models.Receipt{}, err
	}

	log := parsed.ActivityLog()
	log.ID = s.newID()
	log.PatientID = patientID
	log.SubmittedBy = callerID
	log.CreatedAt = s.now().UTC()

	receipt, err := commit.Create(ctx, s.store, callerID, log)
	if err != nil {
		var ce *apperrors.ConflictError
		if errors.As(err, &ce) {
			s.attachExisting(ctx, callerID, ce)
		}
		logFailure("create", callerID, log.IdempotencyKey, err)
		return models.Receipt{}, err
	}

	logger.Info("Activity log created", "id", receipt.ID, "patient", patientID, "caller", callerID, "sets", receipt.SetsCommitted)
	return receipt, nil
}

// Edit replaces the header fields and full child graph of an existing log.
// The patient, submitter and idempotency key never change.
func (s *Service) Edit(ctx context.Context, callerID, id string, body []byte) (models.Receipt, error) {
	if callerID == "" {
		return models.Receipt{}, &apperrors.AuthorizationError{Reason: "missing caller identity"}
	}

	parsed, err := s.validator.ValidateEdit(ctx, body)
	if err != nil {
		return models.Receipt{}, err
	}

	guard, err := s.ownerGuard(ctx, callerID, id)
	if err != nil {
		return models.Receipt{}, err
	}

	log := parsed.ActivityLog()
	log.ID = id

	receipt, err := commit.Replace(ctx, s.store, callerID, log, guard)
	if err != nil {
		logFailure("edit", callerID, id, err)
		return models.Receipt{}, err
	}

	logger.Info("Activity log edited", "id", id, "caller", callerID, "sets", receipt.SetsCommitted)
	return receipt, nil
}

// Delete removes a log and all of its sets and parameters.
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	if callerID == "" {
		return &apperrors.AuthorizationError{Reason: "missing caller identity"}
	}

	guard, err := s.ownerGuard(ctx, callerID, id)
	if err != nil {
		return err
	}

	if err := commit.Delete(ctx, s.store, callerID, id, guard); err != nil {
		logFailure("delete", callerID, id, err)
		return err
	}

	logger.Info("Activity log deleted", "id", id, "caller", callerID)
	return nil
}

// Get returns a stored log if the caller may act for its patient.
func (s *Service) Get(ctx context.Context, callerID, id string) (models.ActivityLog, error) {
	if callerID == "" {
		return models.ActivityLog{}, &apperrors.AuthorizationError{Reason: "missing caller identity"}
	}
	log, err := s.store.GetActivityLog(ctx, id)
	if err != nil {
		return models.ActivityLog{}, err
	}
	if err := s.authorizeExisting(ctx, callerID, log); err != nil {
		return models.ActivityLog{}, err
	}
	return log, nil
}

func (s *Service) authorize(ctx context.Context, callerID, patientID string) error {
	if callerID == patientID {
		return nil
	}
	ok, err := s.relationships.CanSubmitFor(ctx, callerID, patientID)
	if err != nil {
		return fmt.Errorf("failed to check care relationship: %w", err)
	}
	if !ok {
		return &apperrors.AuthorizationError{CallerID: callerID, PatientID: patientID, Reason: "no active care relationship"}
	}
	return nil
}

// authorizeExisting applies the create rule to a stored log. Having
// submitted the log grants nothing once the relationship is revoked, which
// matches the postgres row policy.
func (s *Service) authorizeExisting(ctx context.Context, callerID string, log models.ActivityLog) error {
	return s.authorize(ctx, callerID, log.PatientID)
}

// ownerGuard authorizes against the stored header before the transaction
// opens, then returns a guard that checks the locked header is still the one
// that was authorized. The relationship lookup stays outside the
// transaction; patient and submitter are immutable, so the check holds.
func (s *Service) ownerGuard(ctx context.Context, callerID, id string) (commit.Guard, error) {
	existing, err := s.store.GetActivityLog(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeExisting(ctx, callerID, existing); err != nil {
		return nil, err
	}

	return func(locked models.ActivityLog) error {
		if locked.PatientID != existing.PatientID || locked.SubmittedBy != existing.SubmittedBy {
			return &apperrors.AuthorizationError{CallerID: callerID, PatientID: locked.PatientID, Reason: "activity log changed owner"}
		}
		return nil
	}, nil
}

// attachExisting points a conflict at the log holding the key, so a client
// whose first response was lost learns where its submission went. Logs of
// other submitters are not disclosed.
func (s *Service) attachExisting(ctx context.Context, callerID string, ce *apperrors.ConflictError) {
	existing, err := s.store.FindByIdempotencyKey(ctx, ce.IdempotencyKey)
	if err != nil {
		logger.Debug("Conflicting log not found", "key", ce.IdempotencyKey, "error", err)
		return
	}
	if existing.SubmittedBy == callerID {
		ce.LogID = existing.ID
	}
}

func logFailure(op, callerID, ref string, err error) {
	var (
		ce *apperrors.ConflictError
		ae *apperrors.AuthorizationError
	)
	switch {
	case errors.As(err, &ce):
		logger.Info("Duplicate submission", "op", op, "caller", callerID, "key", ce.IdempotencyKey)
	case errors.As(err, &ae), errors.Is(err, apperrors.ErrNotFound):
		logger.Warn("Activity log write refused", "op", op, "caller", callerID, "ref", ref, "error", err)
	default:
		logger.Error("Activity log write failed", "op", op, "caller", callerID, "ref", ref, "error", err)
	}
}
