package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Submission is the wire contract shared by online and replayed submissions.
// The server never decodes directly into this type; it validates the raw
// document field by field first.
type Submission struct {
	ExerciseID     string       `json:"exercise_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	PerformedAt    time.Time    `json:"performed_at"`
	Notes          *string      `json:"notes,omitempty"`
	PatientID      string       `json:"patient_id,omitempty"`
	Sets           []SetPayload `json:"sets"`
}

type SetPayload struct {
	SetNumber   int      `json:"set_number"`
	Reps        *int     `json:"reps,omitempty"`
	Seconds     *int     `json:"seconds,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
	Side        Side     `json:"side,omitempty"`
	ManualEntry bool     `json:"manual_entry,omitempty"`
	// Parameters is kept raw so that an explicit null, an empty collection
	// and an omitted field survive the round trip through the queue unchanged.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ParameterPayload is the array form of a parameter entry.
type ParameterPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// HasParameters reports whether raw holds a non-empty collection. A missing
// field, a JSON null and an empty array or object all report false. Note that
// a RawMessage holding "null" is non-nil, so a nil check is not enough.
func HasParameters(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return false
		}
		return len(items) > 0
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return false
		}
		return len(fields) > 0
	}
	return false
}

// ParametersFromMap encodes name/value pairs in the object form
// ({"band":"blue"}). Keys are written in sorted order. A nil or empty map
// encodes as nil so the field is omitted.
func ParametersFromMap(params map[string]string) json.RawMessage {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(name)
		v, _ := json.Marshal(params[name])
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
