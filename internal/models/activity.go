package models

import "time"

type Side string

const (
	// SideUnspecified means the submission carried no side at all
	SideUnspecified Side = ""
	SideNone        Side = "none"
	SideLeft        Side = "left"
	SideRight       Side = "right"
	SideBoth        Side = "both"
)

// Valid reports whether s is one of the allowed side values. An unspecified
// side is valid.
func (s Side) Valid() bool {
	switch s {
	case SideUnspecified, SideNone, SideLeft, SideRight, SideBoth:
		return true
	}
	return false
}

// ActivityLog is the header row of one logical submission.
type ActivityLog struct {
	ID             string        `json:"id"`
	PatientID      string        `json:"patient_id"`
	SubmittedBy    string        `json:"submitted_by"`
	ExerciseID     string        `json:"exercise_id"`
	ExerciseName   string        `json:"exercise_name"`
	Notes          string        `json:"notes,omitempty"`
	PerformedAt    time.Time     `json:"performed_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	Sets           []ActivitySet `json:"sets"`
}

// ActivitySet is one repetition/duration/distance unit. SetNumber is the
// caller-assigned identity used for all child association.
type ActivitySet struct {
	ID            int64          `json:"id,omitempty"`
	ActivityLogID string         `json:"activity_log_id,omitempty"`
	SetNumber     int            `json:"set_number"`
	Reps          *int           `json:"reps,omitempty"`
	Seconds       *int           `json:"seconds,omitempty"`
	Distance      *float64       `json:"distance,omitempty"`
	Side          Side           `json:"side,omitempty"`
	ManualEntry   bool           `json:"manual_entry"`
	Parameters    []SetParameter `json:"parameters,omitempty"`
}

// SetParameter is an auxiliary measurement (band colour, weight, ...)
// attached to exactly one set.
type SetParameter struct {
	ID            int64  `json:"id,omitempty"`
	ActivitySetID int64  `json:"activity_set_id,omitempty"`
	Name          string `json:"name"`
	Value         string `json:"value"`
	Unit          string `json:"unit,omitempty"`
}

// Exercise is a vocabulary entry. The write path only reads it to resolve
// the reference and snapshot the name.
type Exercise struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Receipt is returned for a committed create or edit.
type Receipt struct {
	ID            string `json:"id"`
	SetsCommitted int    `json:"sets_committed"`
}
