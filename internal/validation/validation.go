// Package validation checks an incoming submission document before anything
// is written. The raw JSON is inspected field by field, so a wrong type is
// reported against its path instead of being coerced by a struct decoder.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/ptlog/internal/constants"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/storage"
)

// ExerciseResolver looks up exercise vocabulary entries. It must return
// storage.ErrExerciseNotFound for unknown ids.
type ExerciseResolver interface {
	GetExercise(ctx context.Context, id string) (models.Exercise, error)
}

// Mode selects which header fields are required.
type Mode int

const (
	// ModeCreate requires an idempotency key and honours patient_id.
	ModeCreate Mode = iota
	// ModeEdit ignores idempotency_key and patient_id; both are fixed at creation.
	ModeEdit
)

// Parsed is a submission that passed every check.
type Parsed struct {
	ExerciseID     string
	ExerciseName   string
	IdempotencyKey string
	PerformedAt    time.Time
	Notes          string
	// PatientID is empty when the caller submits for themselves.
	PatientID string
	Sets      []models.ActivitySet
}

// ActivityLog returns the header and sets described by p. Identity fields
// (ID, PatientID, SubmittedBy, CreatedAt) are left for the caller to fill.
func (p Parsed) ActivityLog() models.ActivityLog {
	return models.ActivityLog{
		ExerciseID:     p.ExerciseID,
		ExerciseName:   p.ExerciseName,
		IdempotencyKey: p.IdempotencyKey,
		PerformedAt:    p.PerformedAt,
		Notes:          p.Notes,
		Sets:           p.Sets,
	}
}

// Validator validates submissions against the exercise vocabulary.
type Validator struct {
	exercises ExerciseResolver
}

// New creates a new Validator
func New(exercises ExerciseResolver) *Validator {
	return &Validator{exercises: exercises}
}

func (v *Validator) ValidateCreate(ctx context.Context, body []byte) (Parsed, error) {
	return v.Validate(ctx, body, ModeCreate)
}

func (v *Validator) ValidateEdit(ctx context.Context, body []byte) (Parsed, error) {
	return v.Validate(ctx, body, ModeEdit)
}

// Validate runs every check and returns *errors.ValidationError listing all
// offending fields. Checks run in a fixed order: exercise reference, set
// list, per-set identity and measurements, then header fields. A non
// validation error means the exercise lookup itself failed.
func (v *Validator) Validate(ctx context.Context, body []byte, mode Mode) (Parsed, error) {
	errs := &apperrors.ValidationError{}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		errs.Add("$", "body must be a JSON object")
		return Parsed{}, errs
	}
	f := fields{doc: doc, errs: errs}

	var p Parsed
	if err := v.resolveExercise(ctx, f, &p); err != nil {
		return Parsed{}, err
	}

	p.Sets = validateSets(f)

	if mode == ModeCreate {
		if key, ok := f.str("idempotency_key", true); ok {
			key = strings.TrimSpace(key)
			switch {
			case key == "":
				f.fail("idempotency_key", "must not be empty")
			case len(key) > constants.MaxIdempotencyKeyLen:
				f.fail("idempotency_key", "must be at most %d bytes", constants.MaxIdempotencyKeyLen)
			case hasControlChars(key):
				f.fail("idempotency_key", "must not contain control characters")
			default:
				p.IdempotencyKey = key
			}
		}
	}

	if raw, ok := f.str("performed_at", true); ok {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			f.fail("performed_at", "must be an RFC 3339 timestamp")
		} else {
			p.PerformedAt = t.UTC()
		}
	}

	if notes, ok := f.str("notes", false); ok {
		if len(notes) > constants.MaxNotesLen {
			f.fail("notes", "must be at most %d bytes", constants.MaxNotesLen)
		} else {
			p.Notes = notes
		}
	}

	if mode == ModeCreate {
		if patient, ok := f.str("patient_id", false); ok {
			patient = strings.TrimSpace(patient)
			if patient == "" {
				f.fail("patient_id", "must not be empty when present")
			} else {
				p.PatientID = patient
			}
		}
	}

	if err := errs.OrNil(); err != nil {
		return Parsed{}, err
	}
	return p, nil
}

func (v *Validator) resolveExercise(ctx context.Context, f fields, p *Parsed) error {
	id, ok := f.str("exercise_id", true)
	if !ok {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		f.fail("exercise_id", "must not be empty")
		return nil
	}

	ex, err := v.exercises.GetExercise(ctx, id)
	switch {
	case errors.Is(err, storage.ErrExerciseNotFound):
		f.fail("exercise_id", "exercise %q does not exist", id)
		return nil
	case err != nil:
		return fmt.Errorf("failed to resolve exercise %q: %w", id, err)
	case !ex.Active:
		f.fail("exercise_id", "exercise %q is inactive", id)
		return nil
	}

	p.ExerciseID = ex.ID
	p.ExerciseName = ex.Name
	return nil
}

func validateSets(f fields) []models.ActivitySet {
	if !f.expect("sets", kindArray, true) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(f.doc["sets"], &items); err != nil {
		f.fail("sets", "is not a valid array")
		return nil
	}
	switch {
	case len(items) == 0:
		f.fail("sets", "must contain at least one set")
		return nil
	case len(items) > constants.MaxSetsPerSubmission:
		f.fail("sets", "must contain at most %d sets", constants.MaxSetsPerSubmission)
		return nil
	}

	sets := make([]models.ActivitySet, 0, len(items))
	seen := make(map[int]int, len(items))
	for i, item := range items {
		path := fmt.Sprintf("sets[%d]", i)
		if kindOf(item) != kindObject {
			f.errs.Add(path, "must be an object")
			continue
		}

		set, ok := validateSet(item, path, f.errs)
		if !ok {
			continue
		}
		if first, dup := seen[set.SetNumber]; dup {
			f.errs.Add(path+".set_number", "duplicates set_number %d of sets[%d]", set.SetNumber, first)
			continue
		}
		seen[set.SetNumber] = i
		sets = append(sets, set)
	}
	return sets
}

// maxCount keeps integer columns within a 32-bit INTEGER
const maxCount = 1<<31 - 1

func validateSet(raw json.RawMessage, path string, errs *apperrors.ValidationError) (models.ActivitySet, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		errs.Add(path, "is not a valid object")
		return models.ActivitySet{}, false
	}
	f := fields{doc: doc, prefix: path, errs: errs}
	before := len(errs.Fields)

	var set models.ActivitySet

	// set_number is the only identity used to attach parameters, so it must
	// be explicit; it is never inferred from array position.
	if n, ok := f.integer("set_number", true); ok {
		if n < 1 || n > maxCount {
			f.fail("set_number", "must be a positive integer")
		} else {
			set.SetNumber = int(n)
		}
	}

	if side, ok := f.str("side", false); ok {
		s := models.Side(strings.ToLower(strings.TrimSpace(side)))
		if s == models.SideUnspecified || !s.Valid() {
			f.fail("side", "must be one of none, left, right, both")
		} else {
			set.Side = s
		}
	}

	measured := 0
	if n, ok := f.integer("reps", false); ok {
		if n < 0 || n > maxCount {
			f.fail("reps", "must be between 0 and %d", maxCount)
		} else {
			v := int(n)
			set.Reps = &v
			measured++
		}
	}
	if n, ok := f.integer("seconds", false); ok {
		if n < 0 || n > maxCount {
			f.fail("seconds", "must be between 0 and %d", maxCount)
		} else {
			v := int(n)
			set.Seconds = &v
			measured++
		}
	}
	if d, ok := f.number("distance"); ok {
		if d < 0 {
			f.fail("distance", "must not be negative")
		} else {
			set.Distance = &d
			measured++
		}
	}
	if measured == 0 && len(errs.Fields) == before {
		errs.Add(path, "must record at least one of reps, seconds or distance")
	}

	if manual, ok := f.boolean("manual_entry"); ok {
		set.ManualEntry = manual
	}

	set.Parameters = parseParameters(doc["parameters"], f.path("parameters"), errs)

	return set, len(errs.Fields) == before
}
