package validation

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	apperrors "github.com/julianstephens/ptlog/internal/errors"
)

// jsonKind is the type of a raw JSON value, or kindAbsent when the field was
// not sent at all.
type jsonKind int

const (
	kindAbsent jsonKind = iota
	kindNull
	kindString
	kindNumber
	kindBool
	kindArray
	kindObject
)

func (k jsonKind) String() string {
	switch k {
	case kindAbsent:
		return "absent"
	case kindNull:
		return "null"
	case kindString:
		return "a string"
	case kindNumber:
		return "a number"
	case kindBool:
		return "a boolean"
	case kindArray:
		return "an array"
	case kindObject:
		return "an object"
	}
	return "unknown"
}

func kindOf(raw json.RawMessage) jsonKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return kindAbsent
	}
	switch trimmed[0] {
	case 'n':
		return kindNull
	case '"':
		return kindString
	case 't', 'f':
		return kindBool
	case '[':
		return kindArray
	case '{':
		return kindObject
	}
	return kindNumber
}

// fields wraps one decoded JSON object and records failures against paths
// under prefix.
type fields struct {
	doc    map[string]json.RawMessage
	prefix string
	errs   *apperrors.ValidationError
}

func (f fields) path(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + "." + name
}

func (f fields) kind(name string) jsonKind {
	raw, ok := f.doc[name]
	if !ok {
		return kindAbsent
	}
	return kindOf(raw)
}

// present reports whether name was sent with a non-null value.
func (f fields) present(name string) bool {
	k := f.kind(name)
	return k != kindAbsent && k != kindNull
}

func (f fields) fail(name, format string, args ...interface{}) {
	f.errs.Add(f.path(name), format, args...)
}

// expect checks that name holds want. Absent and null values pass unless
// required is set.
func (f fields) expect(name string, want jsonKind, required bool) bool {
	got := f.kind(name)
	switch {
	case got == kindAbsent || got == kindNull:
		if required {
			f.fail(name, "is required")
		}
		return false
	case got != want:
		f.fail(name, "must be %s, got %s", want, got)
		return false
	}
	return true
}

func (f fields) str(name string, required bool) (string, bool) {
	if !f.expect(name, kindString, required) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(f.doc[name], &s); err != nil {
		f.fail(name, "is not a valid string")
		return "", false
	}
	return s, true
}

func (f fields) boolean(name string) (bool, bool) {
	if !f.expect(name, kindBool, false) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(f.doc[name], &b); err != nil {
		f.fail(name, "is not a valid boolean")
		return false, false
	}
	return b, true
}

// integer accepts integral JSON numbers, including forms like 3.0 or 1e2.
func (f fields) integer(name string, required bool) (int64, bool) {
	if !f.expect(name, kindNumber, required) {
		return 0, false
	}
	n, ok := parseInteger(f.doc[name])
	if !ok {
		f.fail(name, "must be a whole number")
		return 0, false
	}
	return n, true
}

func (f fields) number(name string) (float64, bool) {
	if !f.expect(name, kindNumber, false) {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(f.doc[name])), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		f.fail(name, "must be a finite number")
		return 0, false
	}
	return v, true
}

func parseInteger(raw json.RawMessage) (int64, bool) {
	text := string(bytes.TrimSpace(raw))
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v != math.Trunc(v) || v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

// scalarText renders a string, number or boolean as stored parameter text.
func scalarText(raw json.RawMessage) (string, bool) {
	switch kindOf(raw) {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case kindNumber, kindBool:
		return string(bytes.TrimSpace(raw)), true
	}
	return "", false
}

func hasControlChars(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
